// Package main 提供 portlink 演示入口
//
// 在同一进程里启动两个引擎实例，经进程内传输互联，演示握手、
// 请求/响应、广播与优雅断开的完整流程。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/portlink/go-portlink"
	"github.com/portlink/go-portlink/pkg/lib/log"
	"github.com/portlink/go-portlink/pkg/transport/inproc"
)

var logger = log.Logger("portlink/cmd")

var (
	verbose = flag.Bool("verbose", false, "输出调试日志")
	timeout = flag.Duration("timeout", 3*time.Second, "请求超时")
)

func main() {
	flag.Parse()

	if *verbose {
		log.SetLevel(log.LevelDebug)
	}

	fmt.Println(portlink.VersionInfo())

	if err := run(); err != nil {
		logger.Error("演示失败", "error", err)
		os.Exit(1)
	}
}

func run() error {
	const (
		originA = "https://alpha.example.com"
		originB = "https://beta.example.com"
	)

	trA := inproc.NewEndpoint(originA)
	trB := inproc.NewEndpoint(originB)

	alpha, err := portlink.New(
		portlink.WithOrigin(originA),
		portlink.WithAllowedOrigins(originB),
		portlink.WithTransport(trA),
		portlink.WithTimeout(*timeout),
	)
	if err != nil {
		return err
	}
	defer alpha.Destroy()

	beta, err := portlink.New(
		portlink.WithOrigin(originB),
		portlink.WithAllowedOrigins(originA),
		portlink.WithTransport(trB),
		portlink.WithTimeout(*timeout),
	)
	if err != nil {
		return err
	}
	defer beta.Destroy()

	// beta 侧注册处理器：带 Schema 的问候服务
	if err := beta.Register("greeter/hello", portlink.TypeOptions{
		Retries: -1,
		Schema: &portlink.Schema{
			Type:     "object",
			Required: []string{"name"},
			Properties: map[string]*portlink.Schema{
				"name": {Type: "string"},
			},
		},
	}); err != nil {
		return err
	}
	if _, err := beta.On("greeter/hello", func(ctx context.Context, msg *portlink.Message, r portlink.Responder) error {
		name, _ := msg.Payload.(map[string]any)["name"].(string)
		logger.Info("收到问候", "from", msg.Sender, "name", name)
		return r.Respond(map[string]any{"greeting": "hello, " + name})
	}); err != nil {
		return err
	}
	if _, err := beta.On("news/update", func(ctx context.Context, msg *portlink.Message, r portlink.Responder) error {
		logger.Info("收到广播", "payload", msg.Payload)
		return nil
	}); err != nil {
		return err
	}

	// 订阅 alpha 侧的连接事件
	unsub, err := alpha.OnSystem("connected", func(n portlink.SystemNotification) {
		logger.Info("目标已连接", "targetID", n.TargetID)
	})
	if err != nil {
		return err
	}
	defer unsub()

	// 握手
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := alpha.Connect(ctx, trA.Dial(trB), "beta"); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	fmt.Println("connected targets:", alpha.ConnectedTargets())

	// 请求/响应
	reply, err := alpha.Send(ctx, "greeter/hello",
		map[string]any{"name": "world"},
		portlink.SendOptions{TargetID: "beta", ExpectsResponse: true, Retries: -1})
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	fmt.Println("reply:", reply)

	// 广播
	if err := alpha.Broadcast("news/update", map[string]any{"headline": "portlink demo"}); err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}

	// 留出广播投递时间再优雅断开
	time.Sleep(100 * time.Millisecond)
	if err := alpha.Disconnect(ctx, "beta"); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	fmt.Println("disconnected, remaining targets:", alpha.ConnectedTargets())
	return nil
}

// Package engine 实现请求/响应关联引擎
package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portlink/go-portlink/config"
	"github.com/portlink/go-portlink/pkg/interfaces"
	"github.com/portlink/go-portlink/pkg/transport/inproc"
	"github.com/portlink/go-portlink/pkg/types"
	"github.com/portlink/go-portlink/pkg/wire"
)

const (
	originA = "https://a.example.com"
	originB = "https://b.example.com"
)

// testConfig 短超时的测试配置
func testConfig(origin string, allowed ...string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Origin = origin
	cfg.AllowedOrigins = allowed
	cfg.Timeout = config.Duration(500 * time.Millisecond)
	cfg.HandshakeTimeout = config.Duration(time.Second)
	cfg.DisconnectNotifyTimeout = config.Duration(200 * time.Millisecond)
	cfg.Heartbeat.Enabled = false
	return cfg
}

// newPair 创建两个经进程内传输互联并完成握手的引擎
func newPair(t *testing.T, cfgA, cfgB *config.Config) (*Service, *Service, *inproc.Endpoint, *inproc.Endpoint) {
	t.Helper()

	trA := inproc.NewEndpoint(originA)
	trB := inproc.NewEndpoint(originB)

	a, err := New(cfgA, trA, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Destroy() })

	b, err := New(cfgB, trB, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Destroy() })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, a.Connect(ctx, trA.Dial(trB), "beta"))

	return a, b, trA, trB
}

func waitTrue(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// ════════════════════════════════════════════════════════════════════════════
//                              握手与连接
// ════════════════════════════════════════════════════════════════════════════

func TestHandshakeEstablishesBothSides(t *testing.T) {
	a, b, _, _ := newPair(t, testConfig(originA, originB), testConfig(originB, originA))

	assert.Equal(t, []string{"beta"}, a.ConnectedTargets())
	assert.True(t, a.IsConnected("beta"))

	// 接受方以对端实例 ID 作为目标 ID
	waitTrue(t, func() bool { return b.IsConnected(a.InstanceID()) }, "接受方未建立连接")
}

func TestHandshakeFailsWithoutPeer(t *testing.T) {
	trA := inproc.NewEndpoint(originA)
	trDead := inproc.NewEndpoint(originB)
	trDead.Shutdown()

	cfg := testConfig(originA, originB)
	cfg.HandshakeTimeout = config.Duration(100 * time.Millisecond)

	a, err := New(cfg, trA, nil, nil)
	require.NoError(t, err)
	defer a.Destroy()

	err = a.Connect(context.Background(), trA.Dial(trDead), "ghost")
	require.Error(t, err)
	assert.Equal(t, types.CodeHandshakeFailed, types.CodeOf(err))

	// 失败后不留任何局部状态
	assert.Empty(t, a.ConnectedTargets())
	assert.False(t, a.IsConnected("ghost"))
}

func TestHandshakeRejectedOrigin(t *testing.T) {
	trA := inproc.NewEndpoint(originA)
	trB := inproc.NewEndpoint(originB)

	cfgA := testConfig(originA, originB)
	cfgA.HandshakeTimeout = config.Duration(150 * time.Millisecond)
	a, err := New(cfgA, trA, nil, nil)
	require.NoError(t, err)
	defer a.Destroy()

	// b 只信任别的来源，应拒绝 a 的握手
	b, err := New(testConfig(originB, "https://other.example.com"), trB, nil, nil)
	require.NoError(t, err)
	defer b.Destroy()

	err = a.Connect(context.Background(), trA.Dial(trB), "beta")
	require.Error(t, err)
	assert.Equal(t, types.CodeHandshakeFailed, types.CodeOf(err))
	assert.Empty(t, b.ConnectedTargets())
}

func TestHandshakeAckCannotOverrideResolvedOrigin(t *testing.T) {
	trA := inproc.NewEndpoint(originA)
	trB := inproc.NewEndpoint(originB)

	a, err := New(testConfig(originA, originB), trA, nil, nil)
	require.NoError(t, err)
	defer a.Destroy()

	// 对端在 ack 负载里谎报通配来源
	trB.SetReceiver(func(raw []byte, origin string, handle interfaces.TargetHandle) {
		req, err := wire.DecodeRequest(raw)
		if err != nil {
			return
		}
		ack := wire.NewResponse(originB, "mallory-instance", req.ID, map[string]any{
			"kind":       "sys/handshake_ack",
			"instanceId": "mallory-instance",
			"origin":     "*",
		})
		out, err := wire.Encode(ack)
		if err != nil {
			return
		}
		_ = trB.Send(out, handle, origin)
	})

	require.NoError(t, a.Connect(context.Background(), trA.Dial(trB), "beta"))

	// 出站寻址用的来源保持传输层解析结果，声明的通配被忽略
	target, ok := a.registry.Get("beta")
	require.True(t, ok)
	assert.Equal(t, originB, target.Origin)
}

// ════════════════════════════════════════════════════════════════════════════
//                              请求/响应
// ════════════════════════════════════════════════════════════════════════════

func TestRequestResponse(t *testing.T) {
	a, b, _, _ := newPair(t, testConfig(originA, originB), testConfig(originB, originA))

	_, err := b.On("math/double", func(ctx context.Context, msg *interfaces.Message, r interfaces.Responder) error {
		n := msg.Payload.(map[string]any)["n"].(float64)
		return r.Respond(map[string]any{"result": n * 2})
	})
	require.NoError(t, err)

	got, err := a.Send(context.Background(), "math/double",
		map[string]any{"n": 21},
		interfaces.SendOptions{TargetID: "beta", ExpectsResponse: true, Retries: -1})
	require.NoError(t, err)
	assert.Equal(t, float64(42), got.(map[string]any)["result"])
}

func TestRequestErrorResponse(t *testing.T) {
	a, b, _, _ := newPair(t, testConfig(originA, originB), testConfig(originB, originA))

	_, err := b.On("always/fail", func(ctx context.Context, msg *interfaces.Message, r interfaces.Responder) error {
		return r.Reject(types.NewError(types.CodeHandlerError, "deliberate failure"))
	})
	require.NoError(t, err)

	_, err = a.Send(context.Background(), "always/fail", nil,
		interfaces.SendOptions{ExpectsResponse: true, Retries: -1})
	require.Error(t, err)
	assert.Equal(t, types.CodeHandlerError, types.CodeOf(err))
}

func TestNoHandlerRespondsWithError(t *testing.T) {
	a, _, _, _ := newPair(t, testConfig(originA, originB), testConfig(originB, originA))

	_, err := a.Send(context.Background(), "nobody/home", nil,
		interfaces.SendOptions{ExpectsResponse: true, Retries: -1})
	require.Error(t, err)
	assert.Equal(t, types.CodeNoHandler, types.CodeOf(err))
}

func TestHandlerErrorConvertedToResponse(t *testing.T) {
	a, b, _, _ := newPair(t, testConfig(originA, originB), testConfig(originB, originA))

	_, err := b.On("buggy/handler", func(ctx context.Context, msg *interfaces.Message, r interfaces.Responder) error {
		panic("handler bug")
	})
	require.NoError(t, err)

	_, err = a.Send(context.Background(), "buggy/handler", nil,
		interfaces.SendOptions{ExpectsResponse: true, Retries: -1})
	require.Error(t, err)
	assert.Equal(t, types.CodeHandlerError, types.CodeOf(err))
}

func TestResponderSingleUse(t *testing.T) {
	a, b, _, _ := newPair(t, testConfig(originA, originB), testConfig(originB, originA))

	second := make(chan error, 1)
	_, err := b.On("respond/twice", func(ctx context.Context, msg *interfaces.Message, r interfaces.Responder) error {
		require.NoError(t, r.Respond("first"))
		second <- r.Respond("second")
		return nil
	})
	require.NoError(t, err)

	got, err := a.Send(context.Background(), "respond/twice", nil,
		interfaces.SendOptions{ExpectsResponse: true, Retries: -1})
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	assert.ErrorIs(t, <-second, ErrAlreadyResponded)
}

func TestNotifyHasNoResponder(t *testing.T) {
	a, b, _, _ := newPair(t, testConfig(originA, originB), testConfig(originB, originA))

	result := make(chan error, 1)
	_, err := b.On("fire/forget", func(ctx context.Context, msg *interfaces.Message, r interfaces.Responder) error {
		assert.False(t, msg.ExpectsResponse)
		result <- r.Respond("should fail")
		return nil
	})
	require.NoError(t, err)

	_, err = a.Send(context.Background(), "fire/forget", "data",
		interfaces.SendOptions{Retries: -1})
	require.NoError(t, err)

	assert.ErrorIs(t, <-result, ErrNoResponseExpected)
}

func TestHandlerOrderAndIsolation(t *testing.T) {
	a, b, _, _ := newPair(t, testConfig(originA, originB), testConfig(originB, originA))

	var order []int
	done := make(chan struct{})
	_, err := b.On("multi/handler", func(ctx context.Context, msg *interfaces.Message, r interfaces.Responder) error {
		order = append(order, 1)
		panic("first handler dies")
	})
	require.NoError(t, err)
	_, err = b.On("multi/handler", func(ctx context.Context, msg *interfaces.Message, r interfaces.Responder) error {
		order = append(order, 2)
		close(done)
		return nil
	})
	require.NoError(t, err)

	_, err = a.Send(context.Background(), "multi/handler", nil, interfaces.SendOptions{Retries: -1})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("第一个处理器的 panic 中断了后续处理器")
	}
	// 同一 goroutine 顺序执行，无需加锁
	assert.Equal(t, []int{1, 2}, order)
}

// ════════════════════════════════════════════════════════════════════════════
//                              超时与重试
// ════════════════════════════════════════════════════════════════════════════

func TestTimeoutExtendsWaitThenFails(t *testing.T) {
	a, b, _, _ := newPair(t, testConfig(originA, originB), testConfig(originB, originA))

	// 处理器收到但从不响应
	var received atomic.Int32
	_, err := b.On("black/hole", func(ctx context.Context, msg *interfaces.Message, r interfaces.Responder) error {
		received.Add(1)
		return nil
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = a.Send(context.Background(), "black/hole", nil,
		interfaces.SendOptions{ExpectsResponse: true, Timeout: 60 * time.Millisecond, Retries: 2})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, types.CodeResponseTimeout, types.CodeOf(err))

	var perr *types.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 3, perr.Details["attempts"])

	// 1 次初始等待 + 2 次延长，每轮 60ms
	assert.GreaterOrEqual(t, elapsed, 170*time.Millisecond)

	// 重试不重发：对端只收到一条报文
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), received.Load())
}

func TestTypeTimeoutOverridesCall(t *testing.T) {
	a, b, _, _ := newPair(t, testConfig(originA, originB), testConfig(originB, originA))

	_, err := b.On("slow/api", func(ctx context.Context, msg *interfaces.Message, r interfaces.Responder) error {
		return nil // 永不响应
	})
	require.NoError(t, err)

	// 类型级超时 80ms 优先于调用级 10s
	require.NoError(t, a.Register("slow/api", interfaces.TypeOptions{
		Timeout: 80 * time.Millisecond,
		Retries: 0,
	}))

	start := time.Now()
	_, err = a.Send(context.Background(), "slow/api", nil,
		interfaces.SendOptions{ExpectsResponse: true, Timeout: 10 * time.Second, Retries: -1})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, types.CodeResponseTimeout, types.CodeOf(err))
	assert.Less(t, elapsed, 2*time.Second)
}

func TestContextCancelAbortsWait(t *testing.T) {
	a, b, _, _ := newPair(t, testConfig(originA, originB), testConfig(originB, originA))

	_, err := b.On("never/answers", func(ctx context.Context, msg *interfaces.Message, r interfaces.Responder) error {
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = a.Send(ctx, "never/answers", nil,
		interfaces.SendOptions{ExpectsResponse: true, Timeout: 10 * time.Second, Retries: -1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDuplicateResponseFailsLoudly(t *testing.T) {
	a, b, _, _ := newPair(t, testConfig(originA, originB), testConfig(originB, originA))

	var reqID atomic.Value
	_, err := b.On("dup/target", func(ctx context.Context, msg *interfaces.Message, r interfaces.Responder) error {
		reqID.Store(msg.ID)
		return r.Respond("ok")
	})
	require.NoError(t, err)

	errCode := make(chan types.ErrorCode, 1)
	_, err = a.OnSystem(types.EventError, func(n types.SystemNotification) {
		errCode <- types.ErrorCode(n.Data["code"].(string))
	})
	require.NoError(t, err)

	_, err = a.Send(context.Background(), "dup/target", nil,
		interfaces.SendOptions{ExpectsResponse: true, Retries: -1})
	require.NoError(t, err)

	// 伪造同一请求的第二个响应
	dup := wire.NewResponse(originB, b.InstanceID(), reqID.Load().(string), "again")
	a.resolvePending(dup)

	select {
	case code := <-errCode:
		assert.Equal(t, types.CodeDuplicateResponse, code)
	case <-time.After(2 * time.Second):
		t.Fatal("重复响应未触发 error 事件")
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              校验管线
// ════════════════════════════════════════════════════════════════════════════

func TestInboundSchemaReject(t *testing.T) {
	a, b, _, _ := newPair(t, testConfig(originA, originB), testConfig(originB, originA))

	require.NoError(t, b.Register("user/lookup", interfaces.TypeOptions{
		Retries: -1,
		Schema: &interfaces.Schema{
			Type:     "object",
			Required: []string{"userId"},
			Properties: map[string]*interfaces.Schema{
				"userId": {Type: "number"},
			},
		},
	}))
	handled := make(chan struct{}, 1)
	_, err := b.On("user/lookup", func(ctx context.Context, msg *interfaces.Message, r interfaces.Responder) error {
		handled <- struct{}{}
		return r.Respond("found")
	})
	require.NoError(t, err)

	// 类型错误的负载被接收方拒绝，处理器不被调用
	_, err = a.Send(context.Background(), "user/lookup",
		map[string]any{"userId": "not-a-number"},
		interfaces.SendOptions{ExpectsResponse: true, Retries: -1})
	require.Error(t, err)
	assert.Equal(t, types.CodeSchemaMismatch, types.CodeOf(err))
	assert.Empty(t, handled)

	// 合法负载通过
	got, err := a.Send(context.Background(), "user/lookup",
		map[string]any{"userId": 7},
		interfaces.SendOptions{ExpectsResponse: true, Retries: -1})
	require.NoError(t, err)
	assert.Equal(t, "found", got)
}

func TestOutboundSchemaReject(t *testing.T) {
	a, _, _, _ := newPair(t, testConfig(originA, originB), testConfig(originB, originA))

	require.NoError(t, a.Register("strict/type", interfaces.TypeOptions{
		Retries: -1,
		Schema:  &interfaces.Schema{Type: "object", Required: []string{"key"}},
	}))

	// 出站在本地就被拦下，不会走网络
	_, err := a.Send(context.Background(), "strict/type", "not-an-object",
		interfaces.SendOptions{ExpectsResponse: true, Retries: -1})
	require.Error(t, err)
	assert.Equal(t, types.CodeSchemaMismatch, types.CodeOf(err))
}

func TestPayloadTooLarge(t *testing.T) {
	cfgA := testConfig(originA, originB)
	cfgA.MaxPayloadSize = 64
	a, _, _, _ := newPair(t, cfgA, testConfig(originB, originA))

	big := make([]any, 0, 64)
	for i := 0; i < 64; i++ {
		big = append(big, "xxxxxxxxxx")
	}

	_, err := a.Send(context.Background(), "big/one", map[string]any{"data": big},
		interfaces.SendOptions{Retries: -1})
	require.Error(t, err)
	assert.Equal(t, types.CodePayloadTooLarge, types.CodeOf(err))
}

func TestRateLimit(t *testing.T) {
	cfgA := testConfig(originA, originB)
	cfgA.RateLimit.MessagesPerSecond = 3
	a, b, _, _ := newPair(t, cfgA, testConfig(originB, originA))

	_, err := b.On("limited/type", func(ctx context.Context, msg *interfaces.Message, r interfaces.Responder) error {
		return nil
	})
	require.NoError(t, err)

	var rejected bool
	for i := 0; i < 4; i++ {
		_, err := a.Send(context.Background(), "limited/type", nil,
			interfaces.SendOptions{TargetID: "beta", Retries: -1})
		if err != nil {
			assert.Equal(t, types.CodeRateLimitExceeded, types.CodeOf(err))
			rejected = true
		}
	}
	assert.True(t, rejected, "超出预算的发送未被限流")
}

func TestInboundRejectsUnverifiableOrigin(t *testing.T) {
	trA := inproc.NewEndpoint(originA)
	a, err := New(testConfig(originA, originB), trA, nil, nil)
	require.NoError(t, err)
	defer a.Destroy()

	var calls atomic.Int32
	_, err = a.On("guarded/type", func(ctx context.Context, msg *interfaces.Message, r interfaces.Responder) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)

	// 信封声明允许列表里的来源，但传输层给不出可验证的来源：
	// 声明字段由对端随意填写，不得参与判定
	req := wire.NewRequest(originB, "mallory-instance", "guarded/type", map[string]any{"x": 1}, false, "")
	raw, err := wire.Encode(req)
	require.NoError(t, err)

	a.handleInbound(raw, "", nil)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load(), "不可验证来源的请求触发了处理器")

	// 同一报文带上可验证的来源则正常分发
	a.handleInbound(raw, originB, nil)
	waitTrue(t, func() bool { return calls.Load() == 1 }, "可验证来源的请求未送达")
}

func TestRateLimitKeyedByResolvedTarget(t *testing.T) {
	cfgA := testConfig(originA, originB)
	cfgA.RateLimit.MessagesPerSecond = 2
	a, b, _, _ := newPair(t, cfgA, testConfig(originB, originA))

	_, err := b.On("limited/type", func(ctx context.Context, msg *interfaces.Message, r interfaces.Responder) error {
		return nil
	})
	require.NoError(t, err)

	// 显式与省略目标 ID 的发送解析到同一目标，共享同一个窗口
	for i := 0; i < 2; i++ {
		_, err := a.Send(context.Background(), "limited/type", nil,
			interfaces.SendOptions{TargetID: "beta", Retries: -1})
		require.NoError(t, err)
	}
	_, err = a.Send(context.Background(), "limited/type", nil,
		interfaces.SendOptions{Retries: -1})
	require.Error(t, err)
	assert.Equal(t, types.CodeRateLimitExceeded, types.CodeOf(err))
}

func TestSanitizeBeforeSend(t *testing.T) {
	a, b, _, _ := newPair(t, testConfig(originA, originB), testConfig(originB, originA))

	got := make(chan any, 1)
	_, err := b.On("dirty/payload", func(ctx context.Context, msg *interfaces.Message, r interfaces.Responder) error {
		got <- msg.Payload
		return nil
	})
	require.NoError(t, err)

	// 不可序列化成员与危险键在出站前被清洗
	cyclic := map[string]any{
		"keep":      "value",
		"fn":        func() {},
		"__proto__": "evil",
	}
	cyclic["self"] = cyclic

	_, err = a.Send(context.Background(), "dirty/payload", cyclic,
		interfaces.SendOptions{Retries: -1})
	require.NoError(t, err)

	select {
	case p := <-got:
		m := p.(map[string]any)
		assert.Equal(t, "value", m["keep"])
		assert.NotContains(t, m, "fn")
		assert.NotContains(t, m, "__proto__")
		assert.Nil(t, m["self"])
	case <-time.After(2 * time.Second):
		t.Fatal("消息未送达")
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              类型注册
// ════════════════════════════════════════════════════════════════════════════

func TestRegisterConflicts(t *testing.T) {
	a, _, _, _ := newPair(t, testConfig(originA, originB), testConfig(originB, originA))

	require.NoError(t, a.Register("doc/save", interfaces.TypeOptions{Retries: -1}))
	assert.ErrorIs(t, a.Register("doc/save", interfaces.TypeOptions{Retries: -1}), ErrTypeRegistered)

	assert.ErrorIs(t, a.Register(wire.TypePing, interfaces.TypeOptions{Retries: -1}), ErrSystemType)
	_, err := a.On(wire.TypeHandshakeInit, nil)
	assert.ErrorIs(t, err, ErrSystemType)

	assert.ErrorIs(t, a.Unregister("never/registered"), ErrTypeNotFound)
	assert.NoError(t, a.Unregister("doc/save"))
}

func TestUnsubscribeHandler(t *testing.T) {
	a, b, _, _ := newPair(t, testConfig(originA, originB), testConfig(originB, originA))

	var calls atomic.Int32
	unsub, err := b.On("sub/test", func(ctx context.Context, msg *interfaces.Message, r interfaces.Responder) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)

	_, err = a.Send(context.Background(), "sub/test", nil, interfaces.SendOptions{Retries: -1})
	require.NoError(t, err)
	waitTrue(t, func() bool { return calls.Load() == 1 }, "消息未送达")

	unsub()
	unsub() // 幂等

	_, err = a.Send(context.Background(), "sub/test", nil, interfaces.SendOptions{Retries: -1})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

// ════════════════════════════════════════════════════════════════════════════
//                              广播
// ════════════════════════════════════════════════════════════════════════════

func TestBroadcastReachesAllConnected(t *testing.T) {
	trA := inproc.NewEndpoint(originA)
	trB := inproc.NewEndpoint(originB)
	trC := inproc.NewEndpoint("https://c.example.com")

	a, err := New(testConfig(originA, originB, "https://c.example.com"), trA, nil, nil)
	require.NoError(t, err)
	defer a.Destroy()
	b, err := New(testConfig(originB, originA), trB, nil, nil)
	require.NoError(t, err)
	defer b.Destroy()
	c, err := New(testConfig("https://c.example.com", originA), trC, nil, nil)
	require.NoError(t, err)
	defer c.Destroy()

	var gotB, gotC atomic.Int32
	_, err = b.On("news/flash", func(ctx context.Context, msg *interfaces.Message, r interfaces.Responder) error {
		gotB.Add(1)
		return nil
	})
	require.NoError(t, err)
	_, err = c.On("news/flash", func(ctx context.Context, msg *interfaces.Message, r interfaces.Responder) error {
		gotC.Add(1)
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Connect(ctx, trA.Dial(trB), "beta"))
	require.NoError(t, a.Connect(ctx, trA.Dial(trC), "gamma"))

	require.NoError(t, a.Broadcast("news/flash", map[string]any{"n": 1}))

	waitTrue(t, func() bool { return gotB.Load() == 1 && gotC.Load() == 1 }, "广播未到达全部目标")
}

func TestBroadcastSkipsDeadTargetWithoutAborting(t *testing.T) {
	trA := inproc.NewEndpoint(originA)
	trB := inproc.NewEndpoint(originB)
	trC := inproc.NewEndpoint("https://c.example.com")

	a, err := New(testConfig(originA, originB, "https://c.example.com"), trA, nil, nil)
	require.NoError(t, err)
	defer a.Destroy()
	b, err := New(testConfig(originB, originA), trB, nil, nil)
	require.NoError(t, err)
	defer b.Destroy()
	c, err := New(testConfig("https://c.example.com", originA), trC, nil, nil)
	require.NoError(t, err)
	defer c.Destroy()

	var gotC atomic.Int32
	_, err = c.On("news/flash", func(ctx context.Context, msg *interfaces.Message, r interfaces.Responder) error {
		gotC.Add(1)
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Connect(ctx, trA.Dial(trB), "beta"))
	require.NoError(t, a.Connect(ctx, trA.Dial(trC), "gamma"))

	// b 的端点死亡，但广播整体不报错，c 仍收到
	trB.Shutdown()
	require.NoError(t, a.Broadcast("news/flash", nil))
	waitTrue(t, func() bool { return gotC.Load() == 1 }, "存活目标未收到广播")
}

// ════════════════════════════════════════════════════════════════════════════
//                              断开与销毁
// ════════════════════════════════════════════════════════════════════════════

func TestGracefulDisconnect(t *testing.T) {
	a, b, _, _ := newPair(t, testConfig(originA, originB), testConfig(originB, originA))

	events := make(chan types.SystemEvent, 8)
	_, err := a.OnSystem(types.EventDisconnected, func(n types.SystemNotification) {
		events <- n.Event
	})
	require.NoError(t, err)

	require.NoError(t, a.Disconnect(context.Background(), "beta"))

	assert.Empty(t, a.ConnectedTargets())
	waitTrue(t, func() bool { return len(b.ConnectedTargets()) == 0 }, "对端未随断开通知拆除")

	select {
	case ev := <-events:
		assert.Equal(t, types.EventDisconnected, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnected 事件未发出")
	}

	// 重复断开报 TARGET_NOT_FOUND
	err = a.Disconnect(context.Background(), "beta")
	require.Error(t, err)
	assert.Equal(t, types.CodeTargetNotFound, types.CodeOf(err))
}

func TestSendAfterDisconnectFails(t *testing.T) {
	a, _, _, _ := newPair(t, testConfig(originA, originB), testConfig(originB, originA))

	require.NoError(t, a.Disconnect(context.Background(), "beta"))

	_, err := a.Send(context.Background(), "any/type", nil,
		interfaces.SendOptions{TargetID: "beta", Retries: -1})
	require.Error(t, err)
	assert.Equal(t, types.CodeTargetNotFound, types.CodeOf(err))
}

func TestDestroyRejectsPending(t *testing.T) {
	a, b, _, _ := newPair(t, testConfig(originA, originB), testConfig(originB, originA))

	_, err := b.On("hold/forever", func(ctx context.Context, msg *interfaces.Message, r interfaces.Responder) error {
		return nil // 永不响应
	})
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := a.Send(context.Background(), "hold/forever", nil,
			interfaces.SendOptions{ExpectsResponse: true, Timeout: 10 * time.Second, Retries: -1})
		result <- err
	}()

	// 等请求登记后销毁引擎
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, a.Destroy())

	select {
	case err := <-result:
		require.Error(t, err)
		assert.Equal(t, types.CodeEngineDestroyed, types.CodeOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("销毁未唤醒挂起请求")
	}
}

func TestDestroyedEngineRefusesCalls(t *testing.T) {
	a, _, _, _ := newPair(t, testConfig(originA, originB), testConfig(originB, originA))
	require.NoError(t, a.Destroy())

	_, err := a.Send(context.Background(), "x", nil, interfaces.SendOptions{Retries: -1})
	assert.Equal(t, types.CodeEngineDestroyed, types.CodeOf(err))

	assert.Equal(t, types.CodeEngineDestroyed, types.CodeOf(a.Register("x", interfaces.TypeOptions{Retries: -1})))
	assert.Equal(t, types.CodeEngineDestroyed, types.CodeOf(a.Broadcast("x", nil)))
	assert.Equal(t, types.CodeEngineDestroyed, types.CodeOf(a.Connect(context.Background(), nil, "")))

	// 重复销毁同样报错
	assert.Equal(t, types.CodeEngineDestroyed, types.CodeOf(a.Destroy()))
}

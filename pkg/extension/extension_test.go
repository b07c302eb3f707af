package extension

import (
	"bytes"
	"errors"
	"log/slog"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lanlight/lanlight-go/pkg/light"
	"github.com/lanlight/lanlight-go/pkg/wire"
)

// tracing records its name into a shared trace and forwards.
type tracing struct {
	Base
	name  string
	trace *[]string
}

func (e *tracing) LightAdded(l *light.Light) {
	*e.trace = append(*e.trace, e.name)
	e.Base.LightAdded(l)
}

func (e *tracing) Start(Source) error {
	*e.trace = append(*e.trace, "start:"+e.name)
	return nil
}

func (e *tracing) Stop() {
	*e.trace = append(*e.trace, "stop:"+e.name)
}

type otherTracing struct{ tracing }

func tracingFactory(name string, trace *[]string) Factory {
	return func(inner ChangeDispatcher) Extension {
		return &tracing{Base: Base{Inner: inner}, name: name, trace: trace}
	}
}

type stubExtension struct {
	Base
	mock.Mock
}

func (s *stubExtension) Start(src Source) error {
	return s.Called(src).Error(0)
}

func (s *stubExtension) Stop() {
	s.Called()
}

func testLight() *light.Light {
	return light.New(0xd073d5, wire.Inbound{From: netip.MustParseAddrPort("192.168.1.5:56700")}, light.Config{})
}

func TestChainOrder(t *testing.T) {
	var trace []string
	root := DispatcherFunc(func(*light.Light) { trace = append(trace, "R") })

	chain := NewChain(root, tracingFactory("A", &trace), tracingFactory("B", &trace))
	chain.LightAdded(testLight())

	assert.Equal(t, []string{"B", "A", "R"}, trace)
}

func TestChainLifecycle(t *testing.T) {
	var trace []string
	chain := NewChain(nil, tracingFactory("A", &trace), tracingFactory("B", &trace))

	require.NoError(t, chain.Start(nil))
	chain.Stop()
	chain.Stop()

	assert.Equal(t, []string{"start:A", "start:B", "stop:B", "stop:A"}, trace)
	assert.ErrorIs(t, chain.Start(nil), ErrChainStopped)
}

func TestChainStopBeforeStart(t *testing.T) {
	var trace []string
	chain := NewChain(nil, tracingFactory("A", &trace))
	chain.Stop()
	assert.Empty(t, trace)
}

func TestChainStartFailureRollsBack(t *testing.T) {
	first := &stubExtension{}
	first.On("Start", mock.Anything).Return(nil).Once()
	first.On("Stop").Return().Once()

	failing := &stubExtension{}
	failing.On("Start", mock.Anything).Return(errors.New("broker unreachable")).Once()

	chain := NewChain(nil,
		func(inner ChangeDispatcher) Extension { first.Inner = inner; return first },
		func(inner ChangeDispatcher) Extension { failing.Inner = inner; return failing },
	)

	err := chain.Start(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unreachable")

	chain.Stop()
	first.AssertExpectations(t)
	failing.AssertExpectations(t)
	failing.AssertNotCalled(t, "Stop")
}

func TestFind(t *testing.T) {
	var trace []string
	chain := NewChain(nil,
		tracingFactory("A", &trace),
		func(inner ChangeDispatcher) Extension {
			return &otherTracing{tracing{Base: Base{Inner: inner}, name: "O", trace: &trace}}
		},
		tracingFactory("C", &trace),
	)

	tr, ok := Find[*tracing](chain)
	require.True(t, ok)
	assert.Equal(t, "A", tr.name, "first match in construction order")

	other, ok := Find[*otherTracing](chain)
	require.True(t, ok)
	assert.Equal(t, "O", other.name)

	_, ok = Find[*Logging](chain)
	assert.False(t, ok)

	assert.Len(t, chain.Extensions(), 3)
}

func TestLoggingExtension(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var forwarded int
	chain := NewChain(DispatcherFunc(func(*light.Light) { forwarded++ }), NewLogging(logger))
	chain.LightAdded(testLight())

	assert.Equal(t, 1, forwarded)
	assert.True(t, strings.Contains(buf.String(), "target=d573d0000000"), buf.String())
}

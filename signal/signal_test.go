package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestRequestShutdown drives the handler loop without installing OS signal
// handlers.
func TestRequestShutdown(t *testing.T) {
	t.Parallel()

	interceptor := newInterceptor()
	go interceptor.handle()

	require.True(t, interceptor.Alive())

	interceptor.RequestShutdown()

	select {
	case <-interceptor.ShutdownChannel():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown channel was not closed")
	}

	require.False(t, interceptor.Alive())

	// A second request after shutdown must not block.
	interceptor.RequestShutdown()
}

func TestInterceptOnce(t *testing.T) {
	interceptor, err := Intercept()
	require.NoError(t, err)
	require.True(t, interceptor.Listening())

	_, err = Intercept()
	require.Error(t, err)

	interceptor.RequestShutdown()
	<-interceptor.ShutdownChannel()
}

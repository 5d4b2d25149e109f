// Package testutils provides emulator-specific test utilities.
package testutils

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
)

// emulatorPort is the edge port every emulated service is multiplexed on.
const emulatorPort nat.Port = "4566/tcp"

// LocalStackContainer represents a LocalStack container for testing purposes.
type LocalStackContainer struct {
	Container *localstack.LocalStackContainer
	Endpoint  string
}

// StartLocalStackContainer starts a LocalStack container for testing purposes.
func StartLocalStackContainer(t *testing.T) *LocalStackContainer {
	t.Helper()

	if runtime.GOOS != "linux" {
		t.Skip("Skipping LocalStack container test on non-Linux OS")
	}

	ctx := t.Context()
	container, err := localstack.Run(ctx, "localstack/localstack:3.4")
	require.NoError(t, err, "Setup: failed to start LocalStack container")

	host, err := container.Host(ctx)
	require.NoError(t, err, "Setup: failed to get container host")

	port, err := container.MappedPort(ctx, emulatorPort)
	require.NoError(t, err, "Setup: failed to get mapped port")

	return &LocalStackContainer{
		Container: container,
		Endpoint:  fmt.Sprintf("http://%s:%s", host, port.Port()),
	}
}

// Stop stops the LocalStack container.
func (lc *LocalStackContainer) Stop(ctx context.Context) error {
	return lc.Container.Terminate(ctx)
}

// IsReady checks if the emulator answers its health endpoint.
// It will attempt the probe multiple times, each attempt being timeout long at most.
func (lc LocalStackContainer) IsReady(t *testing.T, timeout time.Duration, attempts int) error {
	t.Helper()

	var err error
	for i := range attempts {
		client := &http.Client{Timeout: timeout}
		var resp *http.Response
		resp, err = client.Get(lc.Endpoint + "/_localstack/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			err = fmt.Errorf("health endpoint returned status %d", resp.StatusCode)
		}

		t.Logf("Attempt %d: emulator not ready: %v", i+1, err)
		time.Sleep(1 * time.Second)
	}

	return fmt.Errorf("emulator did not become ready after %d attempts: %v", attempts, err)
}

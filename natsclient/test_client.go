package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestClient provides a containerized NATS server for integration tests
type TestClient struct {
	container testcontainers.Container
	Client    *Client
	URL       string
	cleanup   func()
}

// testConfig holds configuration for the test client
type testConfig struct {
	kvBuckets    []string
	natsVersion  string
	timeout      time.Duration
	startTimeout time.Duration
}

// TestOption configures the test client
type TestOption func(*testConfig)

// WithKVBuckets pre-creates specific KV buckets
func WithKVBuckets(buckets ...string) TestOption {
	return func(cfg *testConfig) {
		cfg.kvBuckets = append(cfg.kvBuckets, buckets...)
	}
}

// WithNATSVersion specifies the NATS server image version to use
func WithNATSVersion(version string) TestOption {
	return func(cfg *testConfig) {
		cfg.natsVersion = version
	}
}

// WithStartTimeout sets the container startup timeout
func WithStartTimeout(timeout time.Duration) TestOption {
	return func(cfg *testConfig) {
		cfg.startTimeout = timeout
	}
}

// NewTestClient starts a NATS container with JetStream enabled and connects
// a Client to it. Cleanup is registered on t.
func NewTestClient(t *testing.T, opts ...TestOption) *TestClient {
	t.Helper()

	tc, err := newTestClient(opts...)
	if err != nil {
		t.Fatalf("start test NATS: %v", err)
	}
	t.Cleanup(tc.Close)
	return tc
}

// NewSharedTestClient starts a test NATS container for use in TestMain,
// where no testing.T is available.
func NewSharedTestClient(opts ...TestOption) (*TestClient, error) {
	return newTestClient(opts...)
}

func newTestClient(opts ...TestOption) (*TestClient, error) {
	cfg := &testConfig{
		natsVersion:  "2.11.7-alpine",
		timeout:      5 * time.Second,
		startTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.startTimeout)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        fmt.Sprintf("nats:%s", cfg.natsVersion),
		ExposedPorts: []string{"4222/tcp"},
		Cmd:          []string{"--jetstream"},
		WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(cfg.startTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("start NATS container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("container port: %w", err)
	}

	url := fmt.Sprintf("nats://%s:%s", host, port.Port())

	client, err := NewClient(url, WithTimeout(cfg.timeout), WithClientName("streambank-test"))
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		_ = container.Terminate(context.Background())
		return nil, err
	}

	for _, bucket := range cfg.kvBuckets {
		if _, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: bucket}); err != nil {
			_ = client.Close(context.Background())
			_ = container.Terminate(context.Background())
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	tc := &TestClient{
		container: container,
		Client:    client,
		URL:       url,
	}
	tc.cleanup = func() {
		_ = client.Close(context.Background())
		_ = container.Terminate(context.Background())
	}
	return tc, nil
}

// Close shuts down the client and terminates the container
func (tc *TestClient) Close() {
	if tc.cleanup != nil {
		tc.cleanup()
		tc.cleanup = nil
	}
}

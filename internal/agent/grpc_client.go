package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// invokeMethod is the unary RPC exposed by the agent sidecar. Payloads are
// google.protobuf.Struct so no generated stubs are needed on either side.
const invokeMethod = "/hedron.agent.v1.AgentService/Invoke"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errAgentResponse            = errors.New("agent returned error")
)

// GrpcClient talks to the agent sidecar over gRPC.
type GrpcClient struct {
	conn    *grpc.ClientConn
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   90 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient dials the sidecar and waits until the connection is ready.
func NewGrpcClient(cfg GrpcClientConfig, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultGrpcClientConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to agent at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad agent endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("agent at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to agent service", "address", cfg.Address)

	return &GrpcClient{
		conn:    conn,
		addr:    cfg.Address,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Build returns an agent bound to accountID. The sidecar builds the
// account's tool-set on its side; the connection is shared.
func (c *GrpcClient) Build(_ context.Context, accountID string) (Agent, error) {
	if accountID == "" {
		return nil, errors.New("account id is required")
	}
	return &grpcAgent{client: c, accountID: accountID}, nil
}

type grpcAgent struct {
	client    *GrpcClient
	accountID string
}

func (a *grpcAgent) Invoke(ctx context.Context, threadID, instruction string) (*Response, error) {
	return a.client.invoke(ctx, a.accountID, threadID, instruction)
}

func (c *GrpcClient) invoke(ctx context.Context, accountID, threadID, instruction string) (*Response, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, ErrEmptyInstruction
	}

	req, err := structpb.NewStruct(map[string]any{
		"thread_id":  threadID,
		"account_id": accountID,
		"input":      instruction,
	})
	if err != nil {
		return nil, fmt.Errorf("build agent request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Debug("Invoking agent via gRPC", "account_id", accountID, "thread_id", threadID)

	var out structpb.Struct
	if err := c.conn.Invoke(ctx, invokeMethod, req, &out); err != nil {
		return nil, fmt.Errorf("agent invoke failed: %w", err)
	}
	return decodeResponse(&out)
}

// decodeResponse maps {output, intermediate_steps:[{tool, observation}], error}
// onto Response. Non-string observations are re-encoded as JSON.
func decodeResponse(s *structpb.Struct) (*Response, error) {
	fields := s.GetFields()
	if msg := fields["error"].GetStringValue(); msg != "" {
		return nil, fmt.Errorf("%w: %s", errAgentResponse, msg)
	}

	resp := &Response{Output: fields["output"].GetStringValue()}
	for _, v := range fields["intermediate_steps"].GetListValue().GetValues() {
		step := v.GetStructValue().GetFields()
		if step == nil {
			continue
		}
		obs := step["observation"]
		var text string
		if _, ok := obs.GetKind().(*structpb.Value_StringValue); ok {
			text = obs.GetStringValue()
		} else if obs != nil {
			raw, err := obs.MarshalJSON()
			if err != nil {
				return nil, fmt.Errorf("encode observation: %w", err)
			}
			text = string(raw)
		}
		resp.Steps = append(resp.Steps, Step{
			Tool:        step["tool"].GetStringValue(),
			Observation: text,
		})
	}
	return resp, nil
}

package main

import (
	"context"
	"strings"

	"github.com/devghori1264/agingwms/internal/gateway"
	natsclient "github.com/devghori1264/agingwms/internal/nats"
	"github.com/devghori1264/agingwms/internal/server"
	"github.com/nats-io/nats.go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// transport is the command channel to agingd.
type transport interface {
	Call(ctx context.Context, command string, payload any) (gateway.Result, error)
	// Watch blocks until ctx ends. kind is "telemetry" or "stepstate".
	Watch(ctx context.Context, slotID string, fn func(kind string, data []byte)) error
	Close() error
}

func dial(ctx context.Context) (transport, error) {
	if grpcAddr != "" {
		cc, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, err
		}
		return &grpcTransport{cc: cc, c: server.NewClient(cc)}, nil
	}
	nc, err := natsclient.Connect(natsURL, "agingctl", nil)
	if err != nil {
		return nil, err
	}
	return &natsTransport{nc: nc}, nil
}

type grpcTransport struct {
	cc *grpc.ClientConn
	c  *server.Client
}

func (t *grpcTransport) Call(ctx context.Context, command string, payload any) (gateway.Result, error) {
	return t.c.Call(ctx, command, payload)
}

func (t *grpcTransport) Watch(ctx context.Context, slotID string, fn func(string, []byte)) error {
	return t.c.Watch(ctx, slotID, fn)
}

func (t *grpcTransport) Close() error { return t.cc.Close() }

type natsTransport struct {
	nc *nats.Conn
}

func (t *natsTransport) Call(ctx context.Context, command string, payload any) (gateway.Result, error) {
	return natsclient.Request(ctx, t.nc, command, payload)
}

func (t *natsTransport) Watch(ctx context.Context, slotID string, fn func(string, []byte)) error {
	subs, err := natsclient.Watch(t.nc, slotID, func(subject string, data []byte) {
		kind := "stepstate"
		if strings.HasPrefix(subject, natsclient.TelemetryPrefix) {
			kind = "telemetry"
		}
		fn(kind, data)
	})
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}()
	<-ctx.Done()
	return nil
}

func (t *natsTransport) Close() error {
	t.nc.Close()
	return nil
}

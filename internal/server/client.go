package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/devghori1264/agingwms/internal/gateway"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls aging.v1.AgingService over an established connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Ping(ctx context.Context) (string, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(pingMethod), &structpb.Struct{}, out); err != nil {
		return "", err
	}
	return out.GetFields()["msg"].GetStringValue(), nil
}

// Call sends command with payload encoded as a Struct.
func (c *Client) Call(ctx context.Context, command string, payload any) (gateway.Result, error) {
	in := &structpb.Struct{}
	if payload != nil {
		s, err := toStruct(payload)
		if err != nil {
			return gateway.Result{}, err
		}
		in = s
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(command), in, out); err != nil {
		return gateway.Result{}, fmt.Errorf("call %s: %w", command, err)
	}
	b, err := out.MarshalJSON()
	if err != nil {
		return gateway.Result{}, err
	}
	var res gateway.Result
	if err := json.Unmarshal(b, &res); err != nil {
		return gateway.Result{}, fmt.Errorf("decode %s result: %w", command, err)
	}
	return res, nil
}

// Watch streams events until ctx ends or the server closes the feed. fn receives the event name
// ("telemetry" or "stepstate") and its JSON body.
func (c *Client) Watch(ctx context.Context, slotID string, fn func(event string, data []byte)) error {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], FullMethod(watchStream))
	if err != nil {
		return err
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if slotID != "" {
		req.Fields["slot_id"] = structpb.NewStringValue(slotID)
	}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		data, err := msg.GetFields()["data"].MarshalJSON()
		if err != nil {
			return err
		}
		fn(msg.GetFields()["event"].GetStringValue(), data)
	}
}

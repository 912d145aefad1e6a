package rpc

import (
	"context"
	"fmt"

	"github.com/segmentio/encoding/json"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"
)

// MessageSink receives window/showMessage notifications from the engine.
type MessageSink interface {
	ShowMessage(typ protocol.MessageType, message string)
}

// handler serves the engine's requests and notifications to the client.
func (c *Client) handler() jsonrpc2.Handler {
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		switch req.Method() {
		case protocol.MethodWindowLogMessage:
			var params protocol.LogMessageParams
			if err := json.Unmarshal(req.Params(), &params); err != nil {
				return replyParseError(ctx, reply, err)
			}
			c.logEngineMessage(params.Type, params.Message)
			return reply(ctx, nil, nil)

		case protocol.MethodWindowShowMessage:
			var params protocol.ShowMessageParams
			if err := json.Unmarshal(req.Params(), &params); err != nil {
				return replyParseError(ctx, reply, err)
			}
			if c.sink != nil {
				c.sink.ShowMessage(params.Type, params.Message)
			} else {
				c.logEngineMessage(params.Type, params.Message)
			}
			return reply(ctx, nil, nil)

		default:
			if _, isCall := req.(*jsonrpc2.Call); !isCall {
				c.logger.Debug("dropping engine notification", zap.String("method", req.Method()))
				return nil
			}
			return jsonrpc2.MethodNotFoundHandler(ctx, reply, req)
		}
	}
}

func (c *Client) logEngineMessage(typ protocol.MessageType, message string) {
	logger := c.logger.Named("engine")
	switch typ {
	case protocol.MessageTypeError:
		logger.Error(message)
	case protocol.MessageTypeWarning:
		logger.Warn(message)
	case protocol.MessageTypeInfo:
		logger.Info(message)
	default:
		logger.Debug(message)
	}
}

func replyParseError(ctx context.Context, reply jsonrpc2.Replier, err error) error {
	return reply(ctx, nil, fmt.Errorf("%s: %w", jsonrpc2.ErrParse, err))
}

package transport

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jrsteele09/go-identity-bridge/payload"
)

// MessageRelayAdapter loads the provider in an embedded surface whose callback is the
// same-origin bridge page. The bridge page posts the callback parameters back to the host as
// a message, which resolves the attempt.
type MessageRelayAdapter struct {
	surfaces SurfaceProvider
	opts     adapterOptions
}

func NewMessageRelayAdapter(surfaces SurfaceProvider, opts ...AdapterOption) *MessageRelayAdapter {
	return &MessageRelayAdapter{
		surfaces: surfaces,
		opts:     newAdapterOptions(KindMessageRelay, opts),
	}
}

func (a *MessageRelayAdapter) Kind() Kind {
	return KindMessageRelay
}

func (a *MessageRelayAdapter) Open(ctx context.Context, req Request) (Result, error) {
	s, err := openSurface(ctx, a.surfaces, a.opts, req)
	if err != nil {
		return Result{}, err
	}

	s.w.onCleanup(s.surface.OnMessage(func(data string) {
		raw, ok := relayResult(data, req, s)
		if !ok {
			return
		}
		if s.w.resolve(Result{Outcome: OutcomeCallback, Raw: raw, Source: sourceMessage}) {
			s.logger.Debug().Msg("callback received from relay message")
		}
	}))

	// The bridge page normally answers with a message; a navigation to it that already
	// carries the result is accepted too.
	s.watchNavigation(func(url string) bool {
		if !strings.HasPrefix(url, req.CallbackPrefix) {
			return false
		}
		return payload.Decode(url).Has(req.ResultKeys...)
	})

	return s.run(req)
}

type relayEnvelope struct {
	Event  string          `json:"event"`
	Params json.RawMessage `json:"params"`
	Kind   string          `json:"kind"`
	Data   json.RawMessage `json:"data"`
}

type identityMessage struct {
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload"`
}

// relayResult extracts the callback payload from a host message. It accepts the bridge
// envelope {event:"<flow>-complete", params}, the window API form
// {kind:"identity", data:{method, payload}}, and flat objects carrying a result key.
func relayResult(data string, req Request, s *surfaceAttempt) (string, bool) {
	obj, ok := payload.ParseJSONObject(data)
	if !ok {
		if payload.Decode(data).Has(req.ResultKeys...) {
			return data, true
		}
		return "", false
	}

	var env relayEnvelope
	b, _ := json.Marshal(obj)
	if err := json.Unmarshal(b, &env); err != nil {
		env = relayEnvelope{}
	}

	switch {
	case strings.EqualFold(env.Kind, "debug"):
		s.logger.Debug().Msg("relay debug message ignored")
		return "", false

	case strings.EqualFold(env.Kind, "identity"):
		var msg identityMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil || !isObject(msg.Payload) {
			s.logger.Debug().Msg("identity message without payload ignored")
			return "", false
		}
		// The window API also sends handshake messages (initialize, ...) before the result.
		if msg.Method != "" && req.Flow != "" && !matchesMethod(msg.Method, req.Flow) {
			s.logger.Debug().Str("method", msg.Method).Msg("identity message for another flow ignored")
			return "", false
		}
		if !payload.Decode(string(msg.Payload)).Has(req.ResultKeys...) {
			s.logger.Debug().Str("method", msg.Method).Msg("identity message without result ignored")
			return "", false
		}
		s.logger.Debug().Str("method", msg.Method).Msg("identity message received")
		return string(msg.Payload), true

	case env.Event != "":
		if !matchesFlow(env.Event, req.Flow) {
			s.logger.Debug().Str("event", env.Event).Msg("relay event for another flow ignored")
			return "", false
		}
		if !isObject(env.Params) {
			return "", false
		}
		return string(env.Params), true
	}

	if payload.Decode(data).Has(req.ResultKeys...) {
		return data, true
	}
	return "", false
}

func matchesFlow(event, flow string) bool {
	if flow == "" {
		return strings.HasSuffix(event, "-complete")
	}
	return strings.EqualFold(event, flow+"-complete")
}

// matchesMethod compares a window API method with the flow; the provider names signing
// "approve".
func matchesMethod(method, flow string) bool {
	if strings.EqualFold(method, flow) {
		return true
	}
	return strings.EqualFold(flow, "sign") && strings.EqualFold(method, "approve")
}

func isObject(raw json.RawMessage) bool {
	_, ok := payload.ParseJSONObject(string(raw))
	return ok && strings.HasPrefix(strings.TrimSpace(string(raw)), "{")
}

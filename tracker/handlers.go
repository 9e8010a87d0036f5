package tracker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/ghostwatch/bus"
	"github.com/hazyhaar/ghostwatch/ia"
)

// Message types understood by the tracker. The browser binding, HTTP API,
// and MCP tools all speak these.
const (
	MsgLogCoordinates  = "log_coordinates"
	MsgLogKeypress     = "log_keypress"
	MsgLogAcceptance   = "log_acceptance"
	MsgAcceptanceCheck = "log_acceptance_check"
	MsgForceUpdate     = "force_update_ias"
	MsgSummary         = "get_ia_summary"
	MsgStatus          = "get_status"
	MsgClear           = "clear_database"
	MsgViewLogs        = "view_logs"
	MsgSettingsUpdated = "settings_updated"
)

type keypressData struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type checkData struct {
	Top          float64 `json:"top"`
	OK           bool    `json:"ok"`
	Index        int     `json:"idx"`
	DetectedAt   string  `json:"detectedAt"`
	ExpectedText string  `json:"expectedText"`
	NowText      string  `json:"nowText"`
}

type viewLogsData struct {
	Limit int `json:"limit"`
}

type ack struct {
	OK     bool   `json:"ok"`
	Stored bool   `json:"stored,omitempty"`
	Root   string `json:"root,omitempty"`
}

// RegisterHandlers binds the tracker's operations to their message types.
func RegisterHandlers(r *bus.Router, t *Tracker) {
	r.Register(MsgLogCoordinates, func(ctx context.Context, msg bus.Message) (any, error) {
		var p ia.Payload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		if !p.HasCoordinates() {
			return nil, fmt.Errorf("payload without coordinates")
		}
		stored, err := t.LogCoordinates(ctx, msg.Sender, p)
		if err != nil {
			return nil, err
		}
		return ack{OK: true, Stored: stored}, nil
	})

	r.Register(MsgLogKeypress, func(ctx context.Context, msg bus.Message) (any, error) {
		var d keypressData
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &d); err != nil {
				return nil, fmt.Errorf("decode keypress: %w", err)
			}
		}
		if err := t.LogKeypress(ctx, d.Message, d.Timestamp); err != nil {
			return nil, err
		}
		return ack{OK: true, Stored: true}, nil
	})

	r.Register(MsgLogAcceptance, func(ctx context.Context, msg bus.Message) (any, error) {
		root, err := t.LogAcceptance(ctx, msg.Data)
		if err != nil {
			return nil, err
		}
		return ack{OK: true, Root: root}, nil
	})

	r.Register(MsgAcceptanceCheck, func(ctx context.Context, msg bus.Message) (any, error) {
		var d checkData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return nil, fmt.Errorf("decode check: %w", err)
		}
		err := t.AppendCheck(ctx, ia.CheckRecord{
			Top:          d.Top,
			OK:           d.OK,
			Index:        d.Index,
			DetectedAt:   d.DetectedAt,
			ExpectedText: d.ExpectedText,
			NowText:      d.NowText,
		})
		if err != nil {
			return nil, err
		}
		return ack{OK: true}, nil
	})

	r.Register(MsgForceUpdate, func(ctx context.Context, _ bus.Message) (any, error) {
		return t.UpdateCache(ctx)
	})

	r.Register(MsgSummary, func(ctx context.Context, _ bus.Message) (any, error) {
		records, err := t.Summary(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"ok": true, "records": records}, nil
	})

	r.Register(MsgStatus, func(ctx context.Context, _ bus.Message) (any, error) {
		return t.Status(ctx), nil
	})

	r.Register(MsgClear, func(ctx context.Context, _ bus.Message) (any, error) {
		if err := t.Clear(ctx); err != nil {
			return nil, err
		}
		return ack{OK: true}, nil
	})

	r.Register(MsgViewLogs, func(ctx context.Context, msg bus.Message) (any, error) {
		var d viewLogsData
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &d); err != nil {
				return nil, fmt.Errorf("decode view_logs: %w", err)
			}
		}
		events, err := t.ViewLogs(ctx, d.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"ok": true, "count": len(events), "logs": events}, nil
	})

	r.Register(MsgSettingsUpdated, func(_ context.Context, msg bus.Message) (any, error) {
		var s Settings
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &s); err != nil {
				return nil, fmt.Errorf("decode settings: %w", err)
			}
		}
		t.ApplySettings(s)
		return ack{OK: true}, nil
	})
}

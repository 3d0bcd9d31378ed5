package spectate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// FollowConfig holds spectator client configuration
type FollowConfig struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Logger         *slog.Logger
}

// DefaultFollowConfig returns sensible defaults
func DefaultFollowConfig() FollowConfig {
	return FollowConfig{
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    30 * time.Second,
	}
}

// Transcript is everything a follower saw of one match.
type Transcript struct {
	Info   MatchInfo
	Frames []Frame
	// End is nil when the stream closed before the match finished.
	End *MatchEnd
}

// Follow connects to a hub and collects events until game_end, a close, or
// ctx is done. Frames already received are returned alongside a read error.
// onFrame, if set, sees each frame as it arrives.
func Follow(ctx context.Context, url string, cfg FollowConfig, onFrame func(Frame)) (Transcript, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.ConnectTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return Transcript{}, fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	var tr Transcript
	for {
		if cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return tr, ctx.Err()
			}
			// Connection closed normally
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return tr, nil
			}
			return tr, fmt.Errorf("read error: %w", err)
		}

		var event Event
		if err := msgpack.Unmarshal(message, &event); err != nil {
			log.Warn("failed to parse event", "error", err)
			continue
		}

		switch event.Type {
		case EventGameInfo:
			var info MatchInfo
			if err := msgpack.Unmarshal(event.Data, &info); err != nil {
				log.Warn("failed to parse game_info", "error", err)
				continue
			}
			// A new match replaces anything seen so far.
			tr = Transcript{Info: info}

		case EventFrame:
			var f Frame
			if err := msgpack.Unmarshal(event.Data, &f); err != nil {
				log.Warn("failed to parse frame", "error", err)
				continue
			}
			tr.Frames = append(tr.Frames, f)
			if onFrame != nil {
				onFrame(f)
			}

		case EventGameEnd:
			var end MatchEnd
			if err := msgpack.Unmarshal(event.Data, &end); err != nil {
				return tr, fmt.Errorf("parse game_end: %w", err)
			}
			tr.End = &end
			return tr, nil
		}
	}
}

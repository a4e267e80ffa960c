// Command keizar-probe checks a running server: it optionally creates a room, joins it,
// marks itself ready and prints every frame the room sends until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/keizars/keizar-go/internal/client"
	"github.com/keizars/keizar-go/internal/protocol"
	"go.uber.org/zap"
)

func main() {
	baseURL := flag.String("base", envOr("KEIZAR_BASE_URL", "http://localhost:4392"), "server base URL")
	roomNo := flag.Uint64("room", 1, "room number")
	user := flag.String("user", "", "user name (random when empty)")
	create := flag.Bool("create", false, "create the room first")
	ready := flag.Bool("ready", true, "send SetReady after joining")
	window := flag.Duration("for", 0, "stop after this long (0 waits for a signal)")
	flag.Parse()

	if *user == "" {
		*user = "probe-" + uuid.NewString()[:8]
	}

	lobby := client.NewLobby(*baseURL, client.WithTimeout(8*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := lobby.Health(ctx); err != nil {
		log.Printf("/health error: %v", err)
	} else {
		log.Printf("/health ok")
	}
	if *create {
		info, err := lobby.CreateRoom(ctx, *roomNo, nil)
		switch {
		case errors.Is(err, client.ErrRoomExists):
			log.Printf("room %d already exists", *roomNo)
		case err != nil:
			cancel()
			log.Fatalf("create room: %v", err)
		case info.Properties != nil:
			log.Printf("created room %d seed=%d", info.RoomNumber, info.Properties.Seed)
		default:
			log.Printf("created room %d", info.RoomNumber)
		}
	}
	cancel()

	conn := client.NewConn(lobby.RoomURL(*roomNo), *user, client.ConnOptions{Logger: zap.NewNop()})
	conn.OnStateChange(func(st client.ConnState) { log.Printf("WS state: %s", st) })
	conn.OnMessage(func(msg protocol.Respond) {
		raw, err := protocol.EncodeRespond(msg)
		if err != nil {
			fmt.Printf("frame %T (unprintable: %v)\n", msg, err)
			return
		}
		fmt.Printf("frame %s\n", raw)
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := conn.Connect(cctx); err != nil {
		ccancel()
		log.Fatalf("WS connect error: %v", err)
	}
	if *ready {
		if err := conn.Send(cctx, protocol.SetReady{}); err != nil {
			log.Printf("SetReady: %v", err)
		}
	}
	ccancel()

	sctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *window > 0 {
		var wcancel context.CancelFunc
		sctx, wcancel = context.WithTimeout(sctx, *window)
		defer wcancel()
	}
	<-sctx.Done()

	_ = conn.Close(context.Background())
	if err := conn.Err(); err != nil {
		log.Printf("connection ended: %v", err)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

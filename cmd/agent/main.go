// Command agent joins a workspace as one collaborator from the terminal. It
// keeps a local editing session that autosaves through the API, follows the
// edits of other users and prints their presence.
//
// Commands read from stdin:
//
//	add <title>        add a note block
//	rm <id>            remove a block and its connections
//	move <id> <x> <y>  move a block
//	cursor <x> <y>     share the cursor position
//	undo | redo | save | status | quit
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/canvas-studio/engine/internal/autosave"
	"github.com/canvas-studio/engine/internal/collab"
	"github.com/canvas-studio/engine/internal/editor"
	"github.com/canvas-studio/engine/internal/graph"
	"github.com/canvas-studio/engine/internal/localstore"
	"github.com/canvas-studio/engine/internal/models"
	"github.com/canvas-studio/engine/pkg/config"
	"github.com/canvas-studio/engine/pkg/logger"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "API base URL")
	workspace := flag.String("workspace", "", "workspace id to join")
	user := flag.String("user", "", "user id, random when empty")
	flag.Parse()

	cfg := config.MustLoad()
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if *workspace == "" {
		log.Fatal("-workspace is required")
	}

	local, err := localstore.OpenSQLite(cfg.LocalStorePath)
	if err != nil {
		log.Fatal("open local store failed", zap.Error(err))
	}
	defer local.Close()

	var opts []collab.Option
	if *user != "" {
		opts = append(opts, collab.WithUserID(*user))
	}
	client := collab.New(*server, *workspace, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		log.Fatal("connect failed", zap.Error(err))
	}
	defer client.Disconnect()

	initial, err := client.LoadGraph(ctx)
	if err != nil {
		log.Fatal("load graph failed", zap.Error(err))
	}

	session := editor.Open(initial, editor.Options{
		WorkspaceID:     *workspace,
		HistoryCapacity: cfg.HistoryCapacity,
		Autosave: autosave.Options{
			Debounce: cfg.AutosaveDebounce,
			OnStatus: func(st autosave.Status) {
				log.Info("sync status",
					zap.String("state", string(st.State)),
					zap.Bool("saved_locally", st.SavedLocally),
					zap.String("error", st.LastError),
				)
			},
		},
		// No OnAutoSnapshot: the api server snapshots every saved graph
		// itself, once for all collaborators.
		Saver:       client,
		Local:       local,
		Broadcaster: client,
	})
	if ok, err := session.Recover(ctx); err != nil {
		log.Warn("recover local copy failed", zap.Error(err))
	} else if ok {
		log.Info("pushed edits left from an earlier session")
	}

	unfollow := session.Follow(client)
	defer unfollow()
	offPresence := client.On(collab.EventPresence, func(v any) {
		names := []string{}
		for _, p := range v.([]collab.Presence) {
			names = append(names, p.DisplayName)
		}
		log.Info("online", zap.Strings("users", names))
	})
	defer offPresence()

	log.Info("joined workspace",
		zap.String("workspace_id", *workspace),
		zap.String("as", client.Self().DisplayName),
		zap.Int("blocks", len(initial.Blocks)),
	)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			quit, err := run(ctx, session, client, strings.Fields(line))
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			if quit {
				break loop
			}
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := session.Close(closeCtx); err != nil {
		log.Error("final save failed", zap.Error(err))
	}
}

func run(ctx context.Context, s *editor.Session, c *collab.Client, args []string) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}
	switch args[0] {
	case "add":
		if len(args) < 2 {
			return false, fmt.Errorf("usage: add <title>")
		}
		title := strings.Join(args[1:], " ")
		_, err := s.Apply(ctx, "add "+title, func(g *graph.Graph) error {
			g.Blocks = append(g.Blocks, models.Block{
				ID:      uuid.NewString(),
				Type:    models.BlockNote,
				Company: models.CompanyCore,
				Status:  models.StatusDraft,
				Title:   title,
				Size:    models.Size{Width: 240, Height: 120},
			})
			return nil
		})
		return false, err
	case "rm":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: rm <id>")
		}
		_, err := s.Apply(ctx, "remove "+args[1], func(g *graph.Graph) error {
			return removeBlock(g, args[1])
		})
		return false, err
	case "move":
		if len(args) != 4 {
			return false, fmt.Errorf("usage: move <id> <x> <y>")
		}
		x, y, err := coords(args[2], args[3])
		if err != nil {
			return false, err
		}
		_, err = s.Apply(ctx, "move "+args[1], func(g *graph.Graph) error {
			for i := range g.Blocks {
				if g.Blocks[i].ID == args[1] {
					g.Blocks[i].Position = models.Position{X: x, Y: y}
					return nil
				}
			}
			return fmt.Errorf("no block %q", args[1])
		})
		return false, err
	case "cursor":
		if len(args) != 3 {
			return false, fmt.Errorf("usage: cursor <x> <y>")
		}
		x, y, err := coords(args[1], args[2])
		if err != nil {
			return false, err
		}
		return false, c.UpdateCursor(ctx, x, y)
	case "undo":
		_, err := s.Undo(ctx)
		return false, err
	case "redo":
		_, err := s.Redo(ctx)
		return false, err
	case "save":
		return false, s.SaveNow(ctx)
	case "status":
		st := s.Status()
		fmt.Printf("%s, %d blocks, undo=%t redo=%t\n", st.State, len(s.Graph().Blocks), s.CanUndo(), s.CanRedo())
		return false, nil
	case "quit", "exit":
		return true, nil
	}
	return false, fmt.Errorf("unknown command %q", args[0])
}

// removeBlock drops the block and every connection touching it. Its
// children become top-level blocks.
func removeBlock(g *graph.Graph, id string) error {
	kept := g.Blocks[:0]
	found := false
	for _, b := range g.Blocks {
		if b.ID == id {
			found = true
			continue
		}
		kept = append(kept, b)
	}
	if !found {
		return fmt.Errorf("no block %q", id)
	}
	g.Blocks = kept
	for i := range g.Blocks {
		if p := g.Blocks[i].ParentID; p != nil && *p == id {
			g.Blocks[i].ParentID = nil
		}
	}
	conns := g.Connections[:0]
	for _, c := range g.Connections {
		if c.SourceID != id && c.TargetID != id {
			conns = append(conns, c)
		}
	}
	g.Connections = conns
	return nil
}

func coords(xs, ys string) (float64, float64, error) {
	x, err := strconv.ParseFloat(xs, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad x: %w", err)
	}
	y, err := strconv.ParseFloat(ys, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad y: %w", err)
	}
	return x, y, nil
}

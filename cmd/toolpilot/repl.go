package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ToolPilot/internal/api"
	apperrors "ToolPilot/internal/errors"
	"ToolPilot/internal/session"
)

const banner = `ToolPilot: chat, browse, calendar and email from one prompt.
Type /help for commands, /exit to leave.`

// runREPL 驱动交互式主循环。
// Ctrl+C 在执行中表示中断当前回合，空闲时表示退出。
func runREPL(manager *session.Manager) error {
	fmt.Println(banner)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	go func() {
		for sig := range signals {
			if sig == syscall.SIGTERM || !manager.Interrupt() {
				fmt.Println("\nGoodbye.")
				os.Exit(0)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}

		reply, err := manager.Process(context.Background(), scanner.Text())
		if err != nil {
			if apperrors.CodeOf(err) == apperrors.CodeSessionBusy {
				fmt.Println("busy: still working on the previous request")
				continue
			}
			fmt.Println("error:", err)
			continue
		}

		if reply.Text != "" {
			fmt.Println(reply.Text)
		}
		if reply.Exit {
			return nil
		}
	}
}

// shutdownServer 给 HTTP 服务一个短暂的优雅关停窗口。
func shutdownServer(server *api.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}

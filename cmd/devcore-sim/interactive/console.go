// Package interactive provides the interactive console of devcore-sim.
package interactive

import (
	"context"
	"fmt"
	"io"

	"github.com/chzyer/readline"

	"github.com/depthkit/devcore/pkg/device"
)

// Console reads commands with line editing and runs them in a Shell.
type Console struct {
	rl    *readline.Instance
	shell *Shell
}

// NewConsole creates the readline instance. Attach must be called before
// Run.
func NewConsole() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "devcore> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl}, nil
}

// Stdout returns a writer that coordinates with the input line. Use it for
// log output so messages do not break the prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Attach binds the console to a device.
func (c *Console) Attach(dev *device.Device, ctrl Controller) {
	c.shell = NewShell(dev, ctrl, c.rl.Stdout())
}

// Run reads commands until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.shell.printHelp()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}
		if c.shell.Execute(ctx, line) {
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}
	}
}

func completer() *readline.PrefixCompleter {
	sensors := []readline.PrefixCompleterInterface{
		readline.PcItem("all"),
		readline.PcItem("depth"),
		readline.PcItem("ir"),
		readline.PcItem("ir_left"),
		readline.PcItem("ir_right"),
		readline.PcItem("color"),
		readline.PcItem("accel"),
		readline.PcItem("gyro"),
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("props", readline.PcItem("internal")),
		readline.PcItem("get"),
		readline.PcItem("set"),
		readline.PcItem("range"),
		readline.PcItem("sync",
			readline.PcItem("FREE_RUN"),
			readline.PcItem("STANDALONE"),
			readline.PcItem("PRIMARY"),
			readline.PcItem("SECONDARY_SYNCED"),
			readline.PcItem("SOFTWARE_TRIGGERING"),
			readline.PcItem("HARDWARE_TRIGGERING"),
		),
		readline.PcItem("trigger"),
		readline.PcItem("start", sensors...),
		readline.PcItem("stop", sensors...),
		readline.PcItem("fit", readline.PcItem("reset"), readline.PcItem("on"), readline.PcItem("off")),
		readline.PcItem("clocksync"),
		readline.PcItem("stats"),
		readline.PcItem("save"),
		readline.PcItem("quit"),
	)
}

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterh/liner"

	"github.com/lexlapax/omegamem/pkg/config"
	"github.com/lexlapax/omegamem/pkg/log"
	"github.com/lexlapax/omegamem/pkg/omegamem"
)

// historyFile is the file where command history is stored
const historyFile = ".omegamem_history"

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults are used when empty)")
	stdinMode := flag.Bool("s", false, "Read from stdin and exit when complete")
	auto := flag.Bool("auto", false, "Run consolidation in the background at the configured interval")
	flag.Parse()

	// .env is optional; it usually carries OPENAI_API_KEY
	_ = godotenv.Load()

	log.Setup(log.Config{
		Level:  log.InfoLevel,
		Format: log.TextFormat,
	})

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := omegamem.New(ctx, cfg)
	if err != nil {
		log.Error("Failed to initialize omegamem client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Error("Failed to close omegamem client", "error", err)
		}
	}()

	sess := newSession(client, os.Stdout)
	if *auto {
		sess.startAuto(ctx)
	}

	if *stdinMode {
		runStdin(ctx, sess, os.Stdin)
		return
	}
	runInteractive(ctx, sess)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadFromBytes(nil)
	}
	return config.LoadFromFile(path)
}

func banner(sess *session, mode string) {
	cfg := sess.client.Config()
	fmt.Fprintf(sess.out, "\n=== omegamem client%s ===\n", mode)
	fmt.Fprintln(sess.out, "Persistence:", cfg.Persistence.Type)
	fmt.Fprintln(sess.out, "Embedding:", cfg.Embedding.Provider)
	fmt.Fprintln(sess.out, sess.client.Stats().String())
}

// runStdin processes one command per line, skipping blanks and comments.
func runStdin(ctx context.Context, sess *session, r io.Reader) {
	banner(sess, " (stdin mode)")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" || strings.HasPrefix(input, "#") || strings.HasPrefix(input, "//") {
			continue
		}
		fmt.Fprintf(sess.out, "omegamem> %s\n", input)
		if !sess.process(ctx, input) {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(sess.out, "Error reading stdin: %v\n", err)
	}
	fmt.Fprintln(sess.out, "Goodbye!")
}

func runInteractive(ctx context.Context, sess *session) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetMultiLineMode(false)
	line.SetCompleter(func(line string) (c []string) {
		for _, cmd := range commandNames {
			if strings.HasPrefix(cmd, line) {
				c = append(c, cmd)
			}
		}
		return
	})

	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	banner(sess, "")
	fmt.Fprintln(sess.out, "Type !help for available commands.")

	for ctx.Err() == nil {
		input, err := line.Prompt("omegamem> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Fprintln(sess.out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(sess.out, "Error reading input: %v\n", err)
			continue
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if !sess.process(ctx, input) {
			fmt.Fprintln(sess.out, "Goodbye!")
			return
		}
	}
}

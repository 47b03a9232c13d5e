package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"deskmate/internal/agent"
	"deskmate/internal/chat"
	"deskmate/internal/config"
	"deskmate/internal/confirm"
	"deskmate/internal/events"
	"deskmate/internal/logging"
	"deskmate/internal/mcp"
	"deskmate/internal/provider"
	"deskmate/internal/skills"
	"deskmate/internal/tools"
	"deskmate/internal/trust"
)

const cliSurface = "cli"

var (
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	thinkingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	confirmStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	noticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Close()

	store, err := openTrustStore()
	if err != nil {
		return fmt.Errorf("failed to open trust store: %w", err)
	}
	if len(store.Folders()) == 0 {
		fmt.Println("No authorized folders yet. Add one first:")
		fmt.Println("  deskmate folders add <path>")
		return nil
	}

	p, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	broker := confirm.NewBroker(bus)
	auth := trust.NewAuthorizer(store)

	skillsDir := cfg.Skills.Dir
	if skillsDir == "" {
		skillsDir = filepath.Join(config.Dir(), "skills")
	}
	registry := skills.NewRegistry(skillsDir)
	defer registry.Close()
	if cfg.Skills.Watch {
		if err := registry.Watch(); err != nil {
			logging.Warn("skill watching disabled", "error", err)
		}
	}

	servers := mcp.NewManager(cfg.MCP.Servers)
	defer servers.Close()
	if err := servers.ConnectAll(cmd.Context()); err != nil {
		fmt.Println(errorStyle.Render("Warning: some tool servers failed to connect (see `deskmate mcp list`)"))
	}

	executor := tools.NewExecutor(store, auth, broker, bus, registry, servers, cfg.Command.Timeout)
	executor.PersistServers = func() error {
		cfg.MCP.Servers = servers.Configs()
		return config.Save(cfg)
	}

	sessions, err := chat.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	session := resumeOrNewSession(sessions)

	ag := agent.New(session, p, executor, broker, bus, store, registry, servers,
		cfg.Model.Name, cfg.Model.MaxOutputTokens)

	stdin := bufio.NewReader(os.Stdin)
	unsubscribe := bus.Subscribe(chatEventHandler(broker, stdin))
	defer unsubscribe()

	// Ctrl+C aborts the in-flight turn instead of killing the process;
	// a second Ctrl+C while idle exits.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if ag.IsProcessing() {
				fmt.Println("\n" + noticeStyle.Render("(aborted)"))
				ag.Abort()
			} else {
				fmt.Println()
				os.Exit(0)
			}
		}
	}()

	fmt.Printf("deskmate %s | model: %s | session: %s\n", version, cfg.Model.Name, shortID(session.ID))
	fmt.Println("Type a message, or /help for commands.")

	for {
		fmt.Print(promptStyle.Render("you> ") + " ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			fmt.Println()
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := handleSlashCommand(line, session, sessions); quit {
				return nil
			}
			continue
		}

		if err := ag.ProcessUserMessage(cmd.Context(), line, nil); err != nil {
			if errors.Is(err, agent.ErrAlreadyProcessing) {
				fmt.Println(errorStyle.Render("Still working on the previous message."))
			}
			// Provider errors were already reported through the bus.
		}
		fmt.Println()

		if err := sessions.Save(session); err != nil {
			logging.Warn("failed to save session", "error", err)
		}
		if err := sessions.SetCurrent(cliSurface, session.ID); err != nil {
			logging.Warn("failed to record current session", "error", err)
		}
	}
}

func buildProvider(cfg *config.Config) (provider.Provider, error) {
	switch cfg.API.ActiveProvider {
	case "", "anthropic":
		if cfg.API.APIKey == "" {
			return nil, errors.New("no API key configured: set api.api_key in config or DESKMATE_API_KEY")
		}
		return provider.NewAnthropic(provider.AnthropicConfig{
			APIKey:      cfg.API.APIKey,
			BaseURL:     cfg.API.BaseURL,
			MaxRetries:  cfg.API.Retry.MaxRetries,
			RetryDelay:  cfg.API.Retry.InitialDelay,
			HTTPTimeout: cfg.API.Retry.HTTPTimeout,
		})
	case "ollama":
		return provider.NewOllama(provider.OllamaConfig{
			BaseURL:     cfg.API.OllamaBaseURL,
			MaxRetries:  cfg.API.Retry.MaxRetries,
			RetryDelay:  cfg.API.Retry.InitialDelay,
			HTTPTimeout: cfg.API.Retry.HTTPTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q (want anthropic or ollama)", cfg.API.ActiveProvider)
	}
}

// resumeOrNewSession picks up where the CLI last left off, falling
// back to a fresh session when the pointer is stale or missing.
func resumeOrNewSession(sessions *chat.Store) *chat.Session {
	if id := sessions.Current(cliSurface); id != "" {
		if session, err := sessions.Load(id); err == nil {
			return session
		}
		logging.Warn("could not resume session, starting fresh", "id", id)
	}
	return chat.NewSession()
}

// chatEventHandler renders agent events on the terminal. Confirmation
// prompts read from stdin; the agent goroutine is suspended inside
// broker.Request while this runs, so stdin is not contended.
func chatEventHandler(broker *confirm.Broker, stdin *bufio.Reader) events.Handler {
	inThinking := false
	return func(ev events.Event) {
		switch ev.Type {
		case events.StreamToken:
			if inThinking {
				fmt.Println()
				inThinking = false
			}
			fmt.Print(ev.Payload)
		case events.StreamThinking:
			if text, ok := ev.Payload.(string); ok {
				inThinking = true
				fmt.Print(thinkingStyle.Render(text))
			}
		case events.ConfirmRequest:
			req, ok := ev.Payload.(confirm.Request)
			if !ok {
				return
			}
			broker.Resolve(req.ID, promptConfirmation(req, stdin))
		case events.ErrorOccurred:
			fmt.Println("\n" + errorStyle.Render(fmt.Sprint(ev.Payload)))
		case events.ArtifactCreated:
			fmt.Println("\n" + noticeStyle.Render(fmt.Sprintf("(wrote %v)", ev.Payload)))
		}
	}
}

func promptConfirmation(req confirm.Request, stdin *bufio.Reader) confirm.Answer {
	fmt.Println()
	fmt.Println(confirmStyle.Render("Confirmation required: " + req.Description))
	if req.Diff != "" {
		fmt.Println(req.Diff)
	}
	fmt.Print(confirmStyle.Render("[y]es / [n]o / [a]lways for this scope: "))

	line, err := stdin.ReadString('\n')
	if err != nil {
		return confirm.Answer{}
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return confirm.Answer{Approved: true}
	case "a", "always":
		return confirm.Answer{Approved: true, Remember: true}
	default:
		return confirm.Answer{}
	}
}

func handleSlashCommand(line string, session *chat.Session, sessions *chat.Store) (quit bool) {
	switch line {
	case "/quit", "/exit":
		if err := sessions.Save(session); err != nil {
			logging.Warn("failed to save session on exit", "error", err)
		}
		return true
	case "/new":
		session.Clear()
		fmt.Println(noticeStyle.Render("Conversation cleared."))
	case "/artifacts":
		artifacts := session.Artifacts()
		if len(artifacts) == 0 {
			fmt.Println("No files written this session.")
			break
		}
		for _, a := range artifacts {
			fmt.Println("  " + a)
		}
	case "/help":
		fmt.Println("  /new        clear the conversation")
		fmt.Println("  /artifacts  list files written this session")
		fmt.Println("  /quit       save and exit")
	default:
		fmt.Println(errorStyle.Render("Unknown command " + line))
	}
	return false
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

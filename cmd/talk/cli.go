package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agentx/aitalk/internal/client"
	"github.com/agentx/aitalk/internal/client/devices"
	"github.com/agentx/aitalk/internal/client/transport"
	"github.com/agentx/aitalk/internal/config"
	"github.com/agentx/aitalk/internal/identity"
	"github.com/agentx/aitalk/internal/llm"
	"github.com/agentx/aitalk/internal/logging"
	"github.com/agentx/aitalk/internal/speech"
)

const appName = "aitalk"

type talkFlags struct {
	server   string
	identity string
	user     string
}

func buildRootCommand() *cobra.Command {
	var flags talkFlags

	root := &cobra.Command{
		Use:   "talk",
		Short: "Hold a spoken conversation with the aitalk server",
		Long: strings.TrimSpace(`talk connects to the aitalk server, records what you say, and plays the
reply aloud. Press Enter to start or stop recording. Type "end" to finish.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTalk(flags)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&flags.server, "server", "", "Server websocket URL (default from config)")
	root.PersistentFlags().StringVar(&flags.identity, "identity", "", "Identity file (default ~/.aitalk/user_id)")
	root.Flags().StringVar(&flags.user, "user", "", "Use this user id instead of the stored identity")

	root.AddCommand(newWhoAmICommand(&flags))
	return root
}

func newWhoAmICommand(flags *talkFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the local user id, creating it on first use",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			id, err := identity.LoadOrCreate(identityPath(*flags, cfg.Client))
			if err != nil {
				return err
			}
			if id.Created {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (new)\n", id.UserID)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), id.UserID)
			return nil
		},
	}
}

func identityPath(flags talkFlags, cfg config.ClientConfig) string {
	if flags.identity != "" {
		return flags.identity
	}
	if cfg.IdentityFile != "" {
		return cfg.IdentityFile
	}
	return identity.DefaultPath()
}

func runTalk(flags talkFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flags.server != "" {
		cfg.Client.ServerURL = flags.server
	}

	userID := flags.user
	if userID == "" {
		id, err := identity.LoadOrCreate(identityPath(flags, cfg.Client))
		if err != nil {
			return fmt.Errorf("load identity: %w", err)
		}
		userID = id.UserID
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt(client.Idle),
		InterruptPrompt: "^C",
		EOFPrompt:       "end",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	logger := logging.New(cfg.Log)
	logger.SetOutput(rl.Stderr())

	ui := &terminal{rl: rl, out: rl.Stdout()}
	synth := speech.NewOpenAISynthesizer(llm.NewClient(cfg.OpenAI), cfg.OpenAI)
	session := client.NewSession(
		userID,
		transport.WebSocketDialer{},
		devices.NewCommandRecorder(cfg.Client.RecordCommand, logger),
		devices.NewPlaybackSpeaker(synth, cfg.Client.PlayCommand, logger),
		ui.observer(),
		client.OptionsFromConfig(cfg.Client),
		logger,
	)
	defer session.End()

	fmt.Fprintf(ui.out, "%s: connecting to %s as %s\n", appName, cfg.Client.ServerURL, userID)
	if err := session.Start(); err != nil {
		return err
	}

	return loop(rl, session, ui, logger)
}

func loop(rl *readline.Instance, session *client.Session, ui *terminal, logger logrus.FieldLogger) error {
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Fprintln(ui.out, "Goodbye!")
				return nil
			}
			return err
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "":
			if err := session.ToggleRecording(); err != nil && !errors.Is(err, client.ErrPermissionDenied) {
				logger.WithError(err).Debug("toggle recording")
			}
		case "end", "quit", "exit":
			session.End()
			fmt.Fprintln(ui.out, "Goodbye!")
			return nil
		case "reconnect":
			if err := session.Reconnect(); err != nil {
				fmt.Fprintf(ui.out, "reconnect: %v\n", err)
			}
		case "history":
			for _, e := range session.History() {
				fmt.Fprintf(ui.out, "[%s] %s: %s\n", e.At.Format("15:04:05"), e.Role, e.Text)
			}
		case "help":
			fmt.Fprintln(ui.out, "Enter: start/stop recording  history: show this session  reconnect: retry after a failure  end: quit")
		default:
			fmt.Fprintln(ui.out, `Unknown command. Type "help".`)
		}
	}
}

type terminal struct {
	rl  *readline.Instance
	out io.Writer
}

func (t *terminal) observer() client.Observer {
	return client.Observer{
		OnStateChange: func(_, to client.State) {
			t.rl.SetPrompt(prompt(to))
			t.rl.Refresh()
		},
		OnNotice: func(n client.Notice) {
			switch {
			case n.Kind == client.NoticeConnectivity:
				fmt.Fprintf(t.out, "!! %s (type \"reconnect\" to try again)\n", n.Message)
				return
			case n.Fatal:
				fmt.Fprintf(t.out, "!! %s\n", n.Message)
				return
			}
			fmt.Fprintf(t.out, "-- %s\n", n.Message)
		},
		OnHistory: func(e client.Entry) {
			who := "You"
			if e.Role == client.RoleAI {
				who = "AI"
			}
			fmt.Fprintf(t.out, "%s: %s\n", who, e.Text)
		},
	}
}

func prompt(s client.State) string {
	switch s {
	case client.Recording:
		return "[recording, Enter to send] "
	case client.Connected:
		return "[Enter to talk] "
	default:
		return fmt.Sprintf("[%s] ", s)
	}
}

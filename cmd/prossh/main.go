package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"golang.org/x/term"

	"prossh/internal/audit"
	"prossh/internal/config"
	"prossh/internal/crypto"
	"prossh/internal/models"
	"prossh/internal/netmon"
	"prossh/internal/session"
	sshx "prossh/internal/ssh"
	"prossh/internal/ui"
	"prossh/internal/vt"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "prossh",
	})

	settings, err := config.LoadSettings()
	if err != nil {
		logger.Fatal("failed to load settings", "err", err)
	}

	configPath, err := config.GetDefaultConfigPath()
	if err != nil {
		logger.Fatal("could not determine config path", "err", err)
	}
	cfg := config.NewManager(configPath)
	if err := cfg.Load(); err != nil {
		logger.Fatal("failed to load configuration", "path", configPath, "err", err)
	}
	if len(cfg.GetHosts()) == 0 {
		fmt.Printf("No hosts configured. Add hosts to %s and try again.\n", configPath)
		os.Exit(1)
	}

	cipher, err := promptCipher()
	if err != nil {
		logger.Fatal("failed to read master password", "err", err)
	}

	verifier, err := sshx.NewKnownHostsVerifier(settings.KnownHostsPath)
	if err != nil {
		logger.Fatal("failed to open known hosts store", "err", err)
	}

	var store *audit.Store
	if settings.AuditDBPath != "" {
		store, err = audit.Open(settings.AuditDBPath, logger)
		if err != nil {
			// Audyt jest opcjonalny; sesje działają bez niego
			logger.Warn("audit store unavailable", "err", err)
			store = nil
		}
	}

	manager := session.NewManager(session.Deps{
		Settings:    settings,
		Verifier:    verifier,
		Credentials: &session.ConfigCredentials{Config: cfg, Cipher: cipher},
		Network:     netmon.New(settings.ProbeAddress, settings.ProbeInterval, logger),
		Factory:     func() sshx.TransportSession { return sshx.NewNativeTransport() },
		Audit:       store,
		Logger:      logger,
	})
	manager.Start()
	defer manager.Stop()

	for {
		host, ok := pickHost(cfg.GetHosts())
		if !ok {
			return
		}

		var jump *models.Host
		if host.JumpHostID != "" {
			j, err := cfg.FindHostByID(host.JumpHostID)
			if err != nil {
				logger.Error("jump host not found", "host", host.Name, "jump_host_id", host.JumpHostID)
				continue
			}
			jump = &j
		}

		sess, err := connectWithTrust(manager, verifier, *host, jump)
		if err != nil {
			logger.Error("connection failed", "host", host.Address(), "err", err)
			continue
		}

		if sess.Details != nil && sess.Details.UsedLegacyAlgorithms {
			fmt.Fprintln(os.Stderr, sess.Details.SecurityAdvisory)
		}

		if err := runInteractive(manager, sess.ID); err != nil {
			logger.Error("session error", "err", err)
		}
		_ = manager.CloseSession(sess.ID)
	}
}

func promptCipher() (*crypto.Cipher, error) {
	fmt.Print("Master password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, err
	}
	return crypto.NewCipher(string(pw)), nil
}

func pickHost(hosts []models.Host) (*models.Host, bool) {
	p := tea.NewProgram(ui.NewPicker(hosts), tea.WithAltScreen())
	model, err := p.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running host picker: %v\n", err)
		return nil, false
	}
	picker := model.(ui.PickerModel)
	if picker.Quitting || picker.Choice == nil {
		return nil, false
	}
	return picker.Choice, true
}

// connectWithTrust wykonuje połączenie, obsługując wyzwania weryfikacji
// klucza hosta promptem. Odrzucenie wyzwania kończy próbę.
func connectWithTrust(manager *session.Manager, verifier *sshx.KnownHostsVerifier, host models.Host, jump *models.Host) (*models.Session, error) {
	if jump != nil {
		if err := preApproveJumpKey(verifier, jump); err != nil {
			return nil, err
		}
	}

	for {
		sess, err := manager.Connect(context.Background(), host, session.ConnectOptions{Jump: jump})
		if err == nil {
			return sess, nil
		}

		challenge, ok := verificationChallenge(err)
		if !ok {
			return nil, err
		}

		if !promptTrust(*challenge) {
			return nil, err
		}
		if terr := manager.Trust(challenge); terr != nil {
			return nil, terr
		}
	}
}

// preApproveJumpKey pobiera odcisk klucza hosta pośredniego zanim
// padnie właściwy tunel, żeby decyzja o zaufaniu zapadła przed wysłaniem
// jakichkolwiek poświadczeń do hosta pośredniego. Nieudana sonda nie
// przerywa próby: właściwy handshake zgłosi rzeczywistą przyczynę.
func preApproveJumpKey(verifier *sshx.KnownHostsVerifier, jump *models.Host) error {
	keyType, fingerprint, err := sshx.ProbeHostKey(context.Background(), jump.Hostname, jump.Port,
		sshx.Modern.WithHostKeys(jump.PinnedHostKeyAlgorithms))
	if err != nil {
		return nil
	}

	res, err := verifier.Evaluate(jump.Hostname, jump.Port, keyType, fingerprint)
	if err != nil {
		return err
	}
	if res.Status != sshx.StatusNeedsApproval {
		return nil
	}
	if !promptTrust(*res.Challenge) {
		return &sshx.JumpHostVerificationError{JumpHost: jump.Address(), Challenge: res.Challenge}
	}
	return verifier.Trust(res.Challenge)
}

// verificationChallenge wyciąga wyzwanie weryfikacji klucza hosta z
// błędu połączenia, dla celu i dla hosta pośredniego.
func verificationChallenge(err error) (*sshx.Challenge, bool) {
	var verr *sshx.HostVerificationRequiredError
	if errors.As(err, &verr) {
		return &verr.Challenge, true
	}
	var jerr *sshx.JumpHostVerificationError
	if errors.As(err, &jerr) && jerr.Challenge != nil {
		return jerr.Challenge, true
	}
	return nil, false
}

func promptTrust(challenge sshx.Challenge) bool {
	p := tea.NewProgram(ui.NewTrustPrompt(challenge))
	model, err := p.Run()
	if err != nil {
		return false
	}
	prompt := model.(ui.TrustModel)
	return prompt.Accepted
}

// runInteractive oddaje terminal sesji: surowe wejście z klawiatury
// idzie do powłoki, wyjście powłoki jest lustrowane na stdout przez
// interpreter sesji.
func runInteractive(manager *session.Manager, sessionID string) error {
	interp, err := manager.Interpreter(sessionID)
	if err != nil {
		return err
	}
	plain, ok := interp.(*vt.Plain)
	if !ok {
		return fmt.Errorf("session interpreter does not support terminal mirroring")
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("failed to enter raw mode: %v", err)
	}
	defer term.Restore(fd, oldState)

	plain.SetMirror(os.Stdout)
	defer plain.SetMirror(nil)

	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		_ = manager.ResizeTerminal(sessionID, w, h)
	}

	// Propagacja zmiany rozmiaru okna do zdalnego PTY
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
				_ = manager.ResizeTerminal(sessionID, w, h)
			}
		}
	}()

	// Wejście z klawiatury do powłoki, aż sesja przejdzie w stan
	// terminalny albo stdin się skończy.
	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if werr := manager.SendRawShellInput(sessionID, string(buf[:n])); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for ev := range manager.Events() {
		if ev.SessionID != sessionID || ev.Kind != session.EventSessionChanged {
			continue
		}
		if ev.Session != nil && ev.Session.IsTerminal() {
			if ev.Session.ErrorMessage != "" {
				return errors.New(ev.Session.ErrorMessage)
			}
			return nil
		}
	}
	return io.ErrUnexpectedEOF
}

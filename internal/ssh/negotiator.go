// internal/ssh/negotiator.go

package ssh

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/log"

	"prossh/internal/models"
)

// ReachabilityCache to pamięć negatywnych wyników osiągalności adresów.
// Forget unieważnia wpis przed próbą połączenia, żeby przeterminowany
// wynik "nieosiągalny" nie przetrwał ręcznego ponowienia; RecordFailure
// odkłada świeży negatywny wynik po błędzie sieciowym.
type ReachabilityCache interface {
	Forget(addr string)
	RecordFailure(addr string)
}

// NegotiateRequest opisuje jedną pełną negocjację połączenia
type NegotiateRequest struct {
	Host models.Host
	Jump *models.Host

	Auth     AuthMaterial
	JumpAuth AuthMaterial

	VerifyHostKey VerifyHostKeyFunc
	JumpVerify    VerifyHostKeyFunc

	TimeoutSeconds int
}

// Negotiator realizuje connect-with-fallback na bazie surowego Connect
// sesji transportowej. Fallback do polityki legacy następuje wyłącznie
// przy błędzie protokołu i jawnej zgodzie użytkownika; użycie legacy
// nigdy nie jest ciche.
type Negotiator struct {
	factory TransportFactory
	reach   ReachabilityCache
	logger  *log.Logger
}

// NewNegotiator tworzy negocjatora. reach może być nil.
func NewNegotiator(factory TransportFactory, reach ReachabilityCache, logger *log.Logger) *Negotiator {
	if logger == nil {
		logger = log.Default()
	}
	return &Negotiator{
		factory: factory,
		reach:   reach,
		logger:  logger.With("component", "negotiator"),
	}
}

// Negotiate zwraca połączoną sesję transportową albo błąd z taksonomii
// pakietu. Zwrócona sesja jest już uwierzytelniona.
func (n *Negotiator) Negotiate(ctx context.Context, req NegotiateRequest) (TransportSession, models.ConnectionDetails, error) {
	host := req.Host

	// Unieważnij ewentualny zbuforowany negatywny wynik osiągalności
	if n.reach != nil {
		n.reach.Forget(host.Address())
		if req.Jump != nil {
			n.reach.Forget(req.Jump.Address())
		}
	}

	modern := Modern.WithHostKeys(host.PinnedHostKeyAlgorithms)

	transport, err := n.attempt(ctx, req, modern, req.VerifyHostKey)
	if err == nil {
		return transport, transport.Negotiated(), nil
	}

	// Decyzje użytkownika i błędy ścieżki jump nie podlegają fallbackowi
	if IsVerificationRequired(err) || isJumpError(err) {
		return nil, models.ConnectionDetails{}, err
	}

	// Błąd sieciowy: zmiana algorytmów nic nie da
	if IsNetworkError(err) {
		n.logger.Debug("network-level failure, skipping legacy fallback", "host", host.Address(), "err", err)
		if n.reach != nil {
			n.reach.RecordFailure(host.Address())
		}
		return nil, models.ConnectionDetails{}, err
	}

	legacy := Legacy.WithHostKeys(host.PinnedHostKeyAlgorithms)

	if host.LegacyMode {
		n.logger.Warn("retrying with legacy algorithm policy", "host", host.Address())
		transport, legacyErr := n.attempt(ctx, req, legacy, req.VerifyHostKey)
		if legacyErr != nil {
			return nil, models.ConnectionDetails{}, legacyErr
		}
		details := transport.Negotiated()
		// Użycie legacy zawsze niesie komunikat bezpieczeństwa
		if details.SecurityAdvisory == "" {
			details.SecurityAdvisory = LegacyAdvisory
		}
		details.UsedLegacyAlgorithms = true
		return transport, details, nil
	}

	// Sonda legacy bez zgody użytkownika: uchwyt jest natychmiast
	// odrzucany; chodzi wyłącznie o odróżnienie "host wymaga legacy"
	// od "host jest po prostu zepsuty".
	probeReq := req
	probeReq.VerifyHostKey = nil
	probeReq.JumpVerify = nil
	probe, probeErr := n.attempt(ctx, probeReq, legacy, nil)
	if probe != nil {
		probe.Disconnect()
	}
	if probeErr == nil || IsAuthError(probeErr) {
		// Handshake legacy przeszedł, więc to kwestia algorytmów
		return nil, models.ConnectionDetails{}, &LegacyAlgorithmsRequiredError{
			Host:    host.Address(),
			Classes: algorithmClasses(err),
		}
	}

	return nil, models.ConnectionDetails{}, err
}

func (n *Negotiator) attempt(ctx context.Context, req NegotiateRequest, policy AlgorithmPolicy, verify VerifyHostKeyFunc) (TransportSession, error) {
	host := req.Host
	transport := n.factory()

	cfg := ConnectConfig{
		Hostname:        host.Hostname,
		Port:            host.Port,
		Username:        host.Username,
		Policy:          policy,
		Auth:            req.Auth,
		AgentForwarding: host.AgentForwarding,
		TimeoutSeconds:  req.TimeoutSeconds,
		VerifyHostKey:   verify,
	}

	var err error
	if req.Jump != nil {
		jump := JumpConfig{
			Hostname:      req.Jump.Hostname,
			Port:          req.Jump.Port,
			Username:      req.Jump.Username,
			Policy:        Modern.WithHostKeys(req.Jump.PinnedHostKeyAlgorithms),
			Auth:          req.JumpAuth,
			VerifyHostKey: req.JumpVerify,
		}
		err = transport.ConnectViaJump(ctx, cfg, jump)
	} else {
		err = transport.Connect(ctx, cfg)
	}

	if err != nil {
		transport.Disconnect()
		return nil, err
	}
	return transport, nil
}

func isJumpError(err error) bool {
	var verr *JumpHostVerificationError
	var aerr *JumpHostAuthError
	var cerr *JumpHostConnectionError
	return errors.As(err, &verr) || errors.As(err, &aerr) || errors.As(err, &cerr)
}

// algorithmClasses wyciąga z błędu negocjacji klasy algorytmów, których
// dotyczy niezgodność.
func algorithmClasses(err error) []string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	var classes []string
	if strings.Contains(msg, "key exchange") {
		classes = append(classes, "key exchange")
	}
	if strings.Contains(msg, "host key") {
		classes = append(classes, "host key")
	}
	if strings.Contains(msg, "cipher") {
		classes = append(classes, "cipher")
	}
	if strings.Contains(msg, "MAC") {
		classes = append(classes, "MAC")
	}
	if len(classes) == 0 {
		classes = []string{"key exchange"}
	}
	return classes
}

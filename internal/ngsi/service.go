package ngsi

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-iotagent/internal/device"
	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
	"github.com/nerrad567/gray-logic-iotagent/internal/fault"
	"github.com/nerrad567/gray-logic-iotagent/internal/pipeline"
	"github.com/nerrad567/gray-logic-iotagent/internal/security"
)

// Defaults applied by New when the corresponding Config field is empty.
const (
	DefaultRegistrationDuration = "P1M"
	DefaultNotificationPath     = "/notify"
	DefaultSubscriptionTTL      = 720 * time.Hour
	DefaultTimeout              = 10 * time.Second
)

// Config holds the engine settings resolved from the agent configuration.
type Config struct {
	// BrokerURL is the base URL of the Broker, e.g. http://orion:1026.
	BrokerURL string

	// Version selects the legacy or current wire protocol.
	Version entity.Shape

	// ProviderURL is the address the Broker uses to reach this agent.
	ProviderURL string

	// NotificationPath is appended to ProviderURL for subscription callbacks.
	NotificationPath string

	// RegistrationDuration is the ISO 8601 duration of context registrations.
	RegistrationDuration string

	// SubscriptionTTL sets the expiry of current-variant subscriptions.
	// Zero disables expiry.
	SubscriptionTTL time.Duration

	DefaultType string
	Service     string
	Subservice  string

	// Types holds the static type configurations keyed by type name.
	Types map[string]entity.TypeConfiguration

	// Timestamp adds a TimeInstant attribute to every update.
	Timestamp bool

	// Timeout bounds every Broker request.
	Timeout time.Duration
}

// UpdateRecorder receives every entity successfully written to the Broker.
type UpdateRecorder interface {
	RecordUpdate(ctx context.Context, service, subservice string, e entity.Entity) error
}

// Deps holds the collaborators of a Service.
type Deps struct {
	// Devices is required for the device lifecycle operations.
	Devices device.Repository

	// Groups is optional; without it group lookups always miss.
	Groups device.GroupRepository

	// Commands is required for polling devices.
	Commands device.CommandQueue

	// Gate is optional; nil disables security.
	Gate *security.Gate

	// Pipeline is optional; nil uses pipeline.Default.
	Pipeline *pipeline.Pipeline

	// Recorder is optional.
	Recorder UpdateRecorder

	// HTTPClient is optional; nil builds one with Config.Timeout.
	HTTPClient *http.Client

	Logger Logger
}

// Service is the protocol engine: device lifecycle, data operations,
// subscriptions and command correlation against one Broker.
//
// Thread Safety: all methods are safe for concurrent use. Calls for the same
// device are not serialised.
type Service struct {
	cfg      Config
	client   *Client
	devices  device.Repository
	groups   device.GroupRepository
	commands device.CommandQueue
	gate     *security.Gate
	pipeline *pipeline.Pipeline
	recorder UpdateRecorder
	log      Logger

	mu       sync.RWMutex
	handlers handlers
}

// New validates cfg and builds a Service.
//
// Parameters:
//   - cfg: engine settings; ProviderURL and at least one type are mandatory
//   - deps: collaborators, see Deps for which are optional
//
// Returns:
//   - *Service: ready to use
//   - error: fault.MissingConfigParams when mandatory settings are absent
func New(cfg Config, deps Deps) (*Service, error) {
	var missing []string
	if cfg.ProviderURL == "" {
		missing = append(missing, "provider_url")
	}
	if len(cfg.Types) == 0 {
		missing = append(missing, "types")
	}
	if cfg.BrokerURL == "" {
		missing = append(missing, "broker")
	}
	if len(missing) > 0 {
		return nil, fault.MissingConfigParams(missing)
	}

	if cfg.Version == 0 {
		cfg.Version = entity.ShapeLegacy
	}
	if cfg.NotificationPath == "" {
		cfg.NotificationPath = DefaultNotificationPath
	}
	if cfg.RegistrationDuration == "" {
		cfg.RegistrationDuration = DefaultRegistrationDuration
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BrokerURL = normaliseHost(cfg.BrokerURL)

	log := deps.Logger
	if log == nil {
		log = noopLogger{}
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	p := deps.Pipeline
	if p == nil {
		p = pipeline.Default(cfg.Timestamp)
	}
	gate := deps.Gate
	if gate == nil {
		gate = security.NewGate(false, nil)
	}

	s := &Service{
		cfg: cfg,
		client: &Client{
			http:      httpClient,
			shape:     cfg.Version,
			provider:  cfg.ProviderURL,
			notifyURL: strings.TrimRight(cfg.ProviderURL, "/") + cfg.NotificationPath,
			duration:  cfg.RegistrationDuration,
			subTTL:    cfg.SubscriptionTTL,
			now:       time.Now,
			log:       log,
		},
		devices:  deps.Devices,
		groups:   deps.Groups,
		commands: deps.Commands,
		gate:     gate,
		pipeline: p,
		recorder: deps.Recorder,
		log:      log,
	}

	log.Info("protocol engine ready",
		"broker", cfg.BrokerURL,
		"version", cfg.Version.String(),
		"stages", strings.Join(p.Stages(), ","),
		"security", gate.Enabled(),
	)
	return s, nil
}

// Config returns the resolved engine settings.
func (s *Service) Config() Config {
	return s.cfg
}

// scopeFor resolves the Broker host and tenant headers for a call.
func (s *Service) scopeFor(tc entity.TypeConfiguration, token string) scope {
	sc := scope{
		host:       s.cfg.BrokerURL,
		service:    tc.Service,
		subservice: tc.Subservice,
		token:      token,
	}
	if tc.CBHost != "" {
		sc.host = normaliseHost(tc.CBHost)
	}
	if sc.service == "" {
		sc.service = s.cfg.Service
	}
	if sc.subservice == "" {
		sc.subservice = s.cfg.Subservice
	}
	return sc
}

// normaliseHost adds a scheme to bare host:port values.
func normaliseHost(host string) string {
	host = strings.TrimRight(host, "/")
	if host != "" && !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return host
}

// resolveConfiguration picks the type configuration for a data operation:
// the explicit one, then the (resource, apikey) group, then the static type.
func (s *Service) resolveConfiguration(ctx context.Context, resource, apikey string, given *entity.TypeConfiguration) (entity.TypeConfiguration, *device.Group) {
	if given != nil {
		return given.Clone(), nil
	}
	if g := s.findGroup(ctx, resource, apikey); g != nil {
		return g.TypeConfiguration(), g
	}
	if tc, ok := s.cfg.Types[resource]; ok {
		return tc.Clone(), nil
	}
	return entity.TypeConfiguration{}, nil
}

func (s *Service) findGroup(ctx context.Context, resource, apikey string) *device.Group {
	if s.groups == nil || (resource == "" && apikey == "") {
		return nil
	}
	g, err := s.groups.Get(ctx, resource, apikey)
	if err != nil {
		return nil
	}
	return g
}

// deviceConfiguration merges the settings of a device with its group, or
// with the static configuration of its type when it has no group.
func (s *Service) deviceConfiguration(ctx context.Context, d *device.Device) entity.TypeConfiguration {
	tc := d.TypeConfiguration()

	var base entity.TypeConfiguration
	if g := s.findGroup(ctx, d.Resource, d.APIKey); g != nil {
		base = g.TypeConfiguration()
	} else if static, ok := s.cfg.Types[d.Type]; ok {
		base = static.Clone()
	}

	if tc.Type == "" {
		tc.Type = base.Type
	}
	if tc.Service == "" {
		tc.Service = firstNonEmpty(base.Service, s.cfg.Service)
	}
	if tc.Subservice == "" {
		tc.Subservice = firstNonEmpty(base.Subservice, s.cfg.Subservice)
	}
	tc.Trust = base.Trust
	tc.CBHost = base.CBHost
	if len(tc.Active) == 0 {
		tc.Active = base.Active
	}
	if len(tc.Lazy) == 0 {
		tc.Lazy = base.Lazy
	}
	if len(tc.Commands) == 0 {
		tc.Commands = base.Commands
	}
	if len(tc.StaticAttributes) == 0 {
		tc.StaticAttributes = base.StaticAttributes
	}
	if len(tc.InternalAttributes) == 0 {
		tc.InternalAttributes = base.InternalAttributes
	}
	return tc
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

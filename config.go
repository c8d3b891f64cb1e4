package asyncredis

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/efritz/backoff"
	"github.com/efritz/glock"
	"github.com/efritz/overcurrent"
	"github.com/spf13/viper"
)

type (
	clientConfig struct {
		password            string
		database            int
		namespace           string
		connectTimeout      time.Duration
		readTimeout         time.Duration
		writeTimeout        time.Duration
		poolCapacity        int
		acquireTimeout      time.Duration
		healthCheckInterval time.Duration
		breakerFunc         BreakerFunc
		clock               glock.Clock
		logger              Logger
		dialer              DialFunc
		backoffFactory      BackoffFactory
		writeLockTTL        time.Duration
	}

	// ConfigFunc is a function used to initialize a new client.
	ConfigFunc func(*clientConfig)

	// BackoffFactory creates a fresh backoff for each lock acquisition.
	BackoffFactory func() backoff.Backoff

	// Config is the declarative form of the client configuration. Every
	// field maps to exactly one recognized option key.
	Config struct {
		Host                string        `mapstructure:"host"`
		Port                int           `mapstructure:"port"`
		DB                  int           `mapstructure:"db"`
		Password            string        `mapstructure:"password"`
		Namespace           string        `mapstructure:"namespace"`
		MaxConnections      int           `mapstructure:"max-connections"`
		AcquireTimeout      time.Duration `mapstructure:"acquire-timeout"`
		HealthCheckInterval time.Duration `mapstructure:"health-check-interval"`
		ConnectTimeout      time.Duration `mapstructure:"connect-timeout"`
		ReadTimeout         time.Duration `mapstructure:"read-timeout"`
		WriteTimeout        time.Duration `mapstructure:"write-timeout"`
	}
)

// Recognized option keys.
const (
	OptionHost                = "host"
	OptionPort                = "port"
	OptionDB                  = "db"
	OptionPassword            = "password"
	OptionNamespace           = "namespace"
	OptionMaxConnections      = "max-connections"
	OptionAcquireTimeout      = "acquire-timeout"
	OptionHealthCheckInterval = "health-check-interval"
	OptionConnectTimeout      = "connect-timeout"
	OptionReadTimeout         = "read-timeout"
	OptionWriteTimeout        = "write-timeout"
)

var recognizedOptions = map[string]struct{}{
	OptionHost:                {},
	OptionPort:                {},
	OptionDB:                  {},
	OptionPassword:            {},
	OptionNamespace:           {},
	OptionMaxConnections:      {},
	OptionAcquireTimeout:      {},
	OptionHealthCheckInterval: {},
	OptionConnectTimeout:      {},
	OptionReadTimeout:         {},
	OptionWriteTimeout:        {},
}

func defaultClientConfig() *clientConfig {
	return &clientConfig{
		password:            "",
		database:            0,
		namespace:           "",
		connectTimeout:      time.Second * 5,
		writeTimeout:        time.Second * 5,
		readTimeout:         time.Second * 5,
		poolCapacity:        10,
		acquireTimeout:      0,
		healthCheckInterval: time.Minute,
		breakerFunc:         noopBreakerFunc,
		clock:               glock.NewRealClock(),
		logger:              NewDefaultLogger(),
		backoffFactory:      defaultBackoffFactory,
	}
}

func defaultBackoffFactory() backoff.Backoff {
	return backoff.NewExponentialBackoff(time.Millisecond*10, time.Millisecond*500)
}

// WithPassword sets the password (default is "").
func WithPassword(password string) ConfigFunc {
	return func(c *clientConfig) { c.password = password }
}

// WithDatabase sets the database index (default is 0).
func WithDatabase(database int) ConfigFunc {
	return func(c *clientConfig) { c.database = database }
}

// WithNamespace sets the prefix applied to every key and channel
// (default is no namespace).
func WithNamespace(namespace string) ConfigFunc {
	return func(c *clientConfig) { c.namespace = namespace }
}

// WithConnectTimeout sets the connect timeout for new connections
// (default is 5 seconds).
func WithConnectTimeout(timeout time.Duration) ConfigFunc {
	return func(c *clientConfig) { c.connectTimeout = timeout }
}

// WithReadTimeout sets the read timeout for all connections in the
// pool (default is 5 seconds). Subscriptions should use a read timeout
// of zero or ping more often than the timeout.
func WithReadTimeout(timeout time.Duration) ConfigFunc {
	return func(c *clientConfig) { c.readTimeout = timeout }
}

// WithWriteTimeout sets the write timeout for all connections in the
// pool (default is 5 seconds).
func WithWriteTimeout(timeout time.Duration) ConfigFunc {
	return func(c *clientConfig) { c.writeTimeout = timeout }
}

// WithPoolCapacity sets the maximum number of concurrent connections
// that can be in use at once (default is 10).
func WithPoolCapacity(capacity int) ConfigFunc {
	return func(c *clientConfig) { c.poolCapacity = capacity }
}

// WithAcquireTimeout sets the maximum time a command waits for a
// connection (default is to wait as long as the context allows).
func WithAcquireTimeout(timeout time.Duration) ConfigFunc {
	return func(c *clientConfig) { c.acquireTimeout = timeout }
}

// WithHealthCheckInterval sets the idle age after which a pooled
// connection is pinged before reuse (default is one minute, zero
// disables the check).
func WithHealthCheckInterval(interval time.Duration) ConfigFunc {
	return func(c *clientConfig) { c.healthCheckInterval = interval }
}

// WithBreaker sets the circuit breaker instance to use around new
// connections. The default uses a no-op circuit breaker.
func WithBreaker(breaker overcurrent.CircuitBreaker) ConfigFunc {
	return func(c *clientConfig) { c.breakerFunc = breaker.Call }
}

// WithBreakerRegistry sets the overcurrent registry to use and the
// name of the circuit breaker config to use around new connections.
// The default uses a no-op circuit breaker.
func WithBreakerRegistry(registry overcurrent.Registry, name string) ConfigFunc {
	return func(c *clientConfig) {
		c.breakerFunc = func(f overcurrent.BreakerFunc) error {
			return registry.Call(name, f, nil)
		}
	}
}

// WithLogger sets the logger instance (the default writes INFO and
// above to stderr through zerolog).
func WithLogger(logger Logger) ConfigFunc {
	return func(c *clientConfig) { c.logger = logger }
}

// WithDialer replaces the TCP dialer. The address given to NewClient
// is ignored when a dialer is supplied.
func WithDialer(dialer DialFunc) ConfigFunc {
	return func(c *clientConfig) { c.dialer = dialer }
}

// WithBackoff sets the backoff used between lock acquisition attempts
// (default is exponential between 10ms and 500ms).
func WithBackoff(factory BackoffFactory) ConfigFunc {
	return func(c *clientConfig) { c.backoffFactory = factory }
}

// WithLockedWrites makes Set and SAdd hold the namespace's "lock" mutex
// (with the given expiry) for the duration of the write. Writes from
// other clients of the namespace configured the same way are serialized.
func WithLockedWrites(ttl time.Duration) ConfigFunc {
	return func(c *clientConfig) { c.writeLockTTL = ttl }
}

func withClock(clock glock.Clock) ConfigFunc {
	return func(c *clientConfig) { c.clock = clock }
}

//
// Declarative Configuration

// DefaultConfig returns the configuration used when an option is absent.
func DefaultConfig() *Config {
	return &Config{
		Host:                "localhost",
		Port:                6379,
		DB:                  0,
		MaxConnections:      10,
		AcquireTimeout:      0,
		HealthCheckInterval: time.Minute,
		ConnectTimeout:      time.Second * 5,
		ReadTimeout:         time.Second * 5,
		WriteTimeout:        time.Second * 5,
	}
}

// ConfigFromMap builds a configuration from a map of option keys to
// values. Unrecognized keys are rejected.
func ConfigFromMap(options map[string]interface{}) (*Config, error) {
	v := viper.New()
	for key, value := range options {
		v.Set(key, value)
	}

	return LoadConfig(v)
}

// LoadConfig decodes the configuration held by v. Every key known to v
// must be a recognized option.
func LoadConfig(v *viper.Viper) (*Config, error) {
	var unknown []string
	for _, key := range v.AllKeys() {
		if _, ok := recognizedOptions[key]; !ok {
			unknown = append(unknown, key)
		}
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s", ErrUnknownOption, strings.Join(unknown, ", "))
	}

	config := DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOption, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks every option value.
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidOption, OptionHost)
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("%w: %s must be between 1 and 65535", ErrInvalidOption, OptionPort)
	case c.DB < 0:
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidOption, OptionDB)
	case c.MaxConnections < 1:
		return fmt.Errorf("%w: %s must be at least 1", ErrInvalidOption, OptionMaxConnections)
	case c.AcquireTimeout < 0, c.HealthCheckInterval < 0, c.ConnectTimeout < 0, c.ReadTimeout < 0, c.WriteTimeout < 0:
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidOption)
	}

	if strings.ContainsAny(c.Namespace, "*?[]") {
		return fmt.Errorf("%w: %s must not contain glob characters", ErrInvalidOption, OptionNamespace)
	}

	return nil
}

// Addr returns the host:port pair to dial.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Options converts the configuration into client options.
func (c *Config) Options() []ConfigFunc {
	return []ConfigFunc{
		WithDatabase(c.DB),
		WithPassword(c.Password),
		WithNamespace(c.Namespace),
		WithPoolCapacity(c.MaxConnections),
		WithAcquireTimeout(c.AcquireTimeout),
		WithHealthCheckInterval(c.HealthCheckInterval),
		WithConnectTimeout(c.ConnectTimeout),
		WithReadTimeout(c.ReadTimeout),
		WithWriteTimeout(c.WriteTimeout),
	}
}

// String returns a formatted representation of the configuration with
// the password masked.
func (c *Config) String() string {
	var sb strings.Builder

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	password := ""
	if c.Password != "" {
		password = "********"
	}

	sb.WriteString("CLIENT CONFIGURATION\n")
	addField("Address", c.Addr())
	addField("Database", strconv.Itoa(c.DB))
	addField("Password", password)
	addField("Namespace", c.Namespace)
	addField("Max Connections", strconv.Itoa(c.MaxConnections))
	addField("Acquire Timeout", c.AcquireTimeout.String())
	addField("Health Check Interval", c.HealthCheckInterval.String())
	addField("Connect Timeout", c.ConnectTimeout.String())
	addField("Read Timeout", c.ReadTimeout.String())
	addField("Write Timeout", c.WriteTimeout.String())

	return sb.String()
}

// Package config is the typed configuration layer, generalized from the
// teacher's single global viper.Viper (rtmp/configure.go's package-level
// Config) into an injectable *Store so every component receives its
// config explicitly instead of reaching for a process-wide singleton
// (see spec §9's "global registries" design note).
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// HTTPHooks is the set of callback URLs described in spec §6.
type HTTPHooks struct {
	Enabled     bool     `mapstructure:"enabled"`
	OnConnect   []string `mapstructure:"on_connect"`
	OnClose     []string `mapstructure:"on_close"`
	OnPublish   []string `mapstructure:"on_publish"`
	OnUnpublish []string `mapstructure:"on_unpublish"`
	OnPlay      []string `mapstructure:"on_play"`
	OnStop      []string `mapstructure:"on_stop"`
	OnDVR       []string `mapstructure:"on_dvr"`
	OnHLS       []string `mapstructure:"on_hls"`
}

// Refer implements the play/publish allow-list-by-page-URL surface.
type Refer struct {
	Enabled      bool     `mapstructure:"enabled"`
	PlayAllow    []string `mapstructure:"play_allow"`
	PublishAllow []string `mapstructure:"publish_allow"`
}

// Security implements the allow/deny-by-IP surface.
type Security struct {
	Enabled bool     `mapstructure:"enabled"`
	Allow   []string `mapstructure:"allow"`
	Deny    []string `mapstructure:"deny"`
}

// HLSConfig is vhost.hls.*.
type HLSConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Path            string        `mapstructure:"hls_path"`
	Fragment        time.Duration `mapstructure:"hls_fragment"`
	Window          time.Duration `mapstructure:"hls_window"`
	OnError         string        `mapstructure:"hls_on_error"` // ignore|disconnect|continue|fragment; the HLS segmenter only checks for "fragment", which ends the playlist with EXT-X-ENDLIST on unpublish
	KeepAfterExpire time.Duration `mapstructure:"keep_after_expire"`
	AudioOnlyGrace  time.Duration `mapstructure:"audio_only_grace"`
	// PublisherGapThreshold forces a segment cut plus
	// EXT-X-DISCONTINUITY when no packet arrives for this long (spec
	// §4.E trigger (c)).
	PublisherGapThreshold time.Duration `mapstructure:"publisher_gap_threshold"`
	// EmitDiscontinuityOnAudioVideoTransition is loaded from
	// discontinuity_on_av_transition (default true), but the HLS segmenter
	// does not read it: no discontinuity is emitted on an audio-only <->
	// audio+video transition.
	EmitDiscontinuityOnAudioVideoTransition bool `mapstructure:"discontinuity_on_av_transition"`
}

// DASHConfig is vhost.dash.*.
type DASHConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Path              string        `mapstructure:"dash_path"`
	Fragment          time.Duration `mapstructure:"dash_fragment"`
	UpdatePeriod      time.Duration `mapstructure:"dash_update_period"`
	WindowSize        int           `mapstructure:"dash_window_size"`
	TimeshiftSegments int           `mapstructure:"dash_timeshift"`
}

// Forward is vhost.forward.*.
type Forward struct {
	Destination []string `mapstructure:"destination"`
	// Origin is the upstream rtmp://host/app address the Edge Puller
	// dials when play is requested for a stream this process has never
	// had a local publisher for.
	Origin string `mapstructure:"origin"`
	// MaxAttempts bounds the Edge Puller's exponential backoff (§4.H);
	// zero means retry forever.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// VHost is one entry of the vhost.* config subtree.
type VHost struct {
	Name                string        `mapstructure:"name"`
	GopCache            bool          `mapstructure:"gop_cache"`
	GopCacheNum         int           `mapstructure:"gop_cache_num"`
	QueueLength         time.Duration `mapstructure:"queue_length"`
	IdleGrace           time.Duration `mapstructure:"idle_grace"`
	ATCThreshold        time.Duration `mapstructure:"atc_threshold"`
	LatestWinsPublisher bool          `mapstructure:"latest_wins_publisher"`

	HLS       HLSConfig  `mapstructure:"hls"`
	DASH      DASHConfig `mapstructure:"dash"`
	Forward   Forward    `mapstructure:"forward"`
	Refer     Refer      `mapstructure:"refer"`
	Security  Security   `mapstructure:"security"`
	HTTPHooks HTTPHooks  `mapstructure:"http_hooks"`
}

// Listen holds the network port surface from spec §6.
type Listen struct {
	RTMP  string `mapstructure:"rtmp"`
	HTTP  string `mapstructure:"http"`
	HTTPS string `mapstructure:"https"`
	API   string `mapstructure:"api"`
}

// Root is the whole configuration document.
type Root struct {
	Level          string        `mapstructure:"level"`
	Listen         Listen        `mapstructure:"listen"`
	MaxConnections int           `mapstructure:"max_connections"`
	Workers        int           `mapstructure:"workers"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	RedisPassword  string        `mapstructure:"redis_pwd"`
	DefaultVHost   string        `mapstructure:"default_vhost"`
	VHosts         []VHost       `mapstructure:"vhost"`
}

const DefaultVHostName = "__defaultVhost__"

func defaults() Root {
	return Root{
		Level: "info",
		Listen: Listen{
			RTMP:  ":1935",
			HTTP:  ":8080",
			HTTPS: ":8088",
			API:   ":1985",
		},
		MaxConnections: 4096,
		Workers:        1,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   10 * time.Second,
		DefaultVHost:   DefaultVHostName,
		VHosts: []VHost{{
			Name:         DefaultVHostName,
			GopCache:     true,
			GopCacheNum:  1,
			QueueLength:  3 * time.Second,
			IdleGrace:    30 * time.Second,
			ATCThreshold: 90 * time.Second,
			HLS: HLSConfig{
				Enabled:                                 true,
				Path:                                    "./data/hls",
				Fragment:                                10 * time.Second,
				Window:                                  60 * time.Second,
				OnError:                                 "continue",
				KeepAfterExpire:                         30 * time.Second,
				AudioOnlyGrace:                          5 * time.Second,
				PublisherGapThreshold:                   10 * time.Second,
				EmitDiscontinuityOnAudioVideoTransition: true,
			},
			DASH: DASHConfig{
				Enabled:      true,
				Path:         "./data/dash",
				Fragment:     5 * time.Second,
				UpdatePeriod: 30 * time.Second,
				WindowSize:   6,
			},
		}},
	}
}

// Store is the injectable configuration handle; components take a *Store
// rather than reaching for a package-level singleton.
type Store struct {
	v    *viper.Viper
	root Root
}

// Load reads configuration from the given file path (if non-empty),
// environment variables (prefixed LIVEHUB_), and built-in defaults:
// environment variables override the file, which overrides the defaults.
func Load(path string) (*Store, error) {
	v := viper.New()
	def := defaults()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	}
	v.SetEnvPrefix("LIVEHUB")
	v.AutomaticEnv()

	setDefaults(v, def)

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var root Root
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if len(root.VHosts) == 0 {
		root.VHosts = def.VHosts
	}
	return &Store{v: v, root: root}, nil
}

func setDefaults(v *viper.Viper, def Root) {
	v.SetDefault("level", def.Level)
	v.SetDefault("listen.rtmp", def.Listen.RTMP)
	v.SetDefault("listen.http", def.Listen.HTTP)
	v.SetDefault("listen.https", def.Listen.HTTPS)
	v.SetDefault("listen.api", def.Listen.API)
	v.SetDefault("max_connections", def.MaxConnections)
	v.SetDefault("workers", def.Workers)
	v.SetDefault("read_timeout", def.ReadTimeout)
	v.SetDefault("write_timeout", def.WriteTimeout)
	v.SetDefault("default_vhost", def.DefaultVHost)
}

// Get returns the decoded root configuration.
func (s *Store) Get() Root { return s.root }

// VHost resolves a vhost by name, falling back to the configured default
// vhost when name is empty, matching spec §3's StreamKey normalization.
func (s *Store) VHost(name string) VHost {
	if name == "" {
		name = s.root.DefaultVHost
	}
	for _, vh := range s.root.VHosts {
		if vh.Name == name {
			return vh
		}
	}
	for _, vh := range s.root.VHosts {
		if vh.Name == s.root.DefaultVHost {
			return vh
		}
	}
	return VHost{Name: name}
}

package drission

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mstoykov/envconfig"
	"gopkg.in/guregu/null.v3"
	"gopkg.in/ini.v1"

	"github.com/chromedp/drission/runner"
	"github.com/chromedp/drission/session"
)

// Config is the file and environment backed configuration. Unset fields keep
// the package defaults.
type Config struct {
	Address      null.String `ini:"address" envconfig:"DRISSION_ADDRESS"`
	BrowserPath  null.String `ini:"browser_path" envconfig:"DRISSION_BROWSER_PATH"`
	UserDataPath null.String `ini:"user_data_path" envconfig:"DRISSION_USER_DATA_PATH"`
	Headless     null.Bool   `ini:"headless" envconfig:"DRISSION_HEADLESS"`
	ExistingOnly null.Bool   `ini:"existing_only" envconfig:"DRISSION_EXISTING_ONLY"`
	LoadMode     null.String `ini:"load_mode" envconfig:"DRISSION_LOAD_MODE"`
	Proxy        null.String `ini:"proxy" envconfig:"DRISSION_PROXY"`
	Arguments    []string    `ini:"arguments" envconfig:"DRISSION_ARGUMENTS"`

	DownloadPath null.String `ini:"download_path" envconfig:"DRISSION_DOWNLOAD_PATH"`
	TmpPath      null.String `ini:"tmp_path" envconfig:"DRISSION_TMP_PATH"`

	// Timeouts in seconds.
	TimeoutBase     null.Float `ini:"base" envconfig:"DRISSION_TIMEOUT_BASE"`
	TimeoutPageLoad null.Float `ini:"page_load" envconfig:"DRISSION_TIMEOUT_PAGE_LOAD"`
	TimeoutScript   null.Float `ini:"script" envconfig:"DRISSION_TIMEOUT_SCRIPT"`

	RetryTimes    null.Int   `ini:"retry_times" envconfig:"DRISSION_RETRY_TIMES"`
	RetryInterval null.Float `ini:"retry_interval" envconfig:"DRISSION_RETRY_INTERVAL"`

	UserAgent null.String `ini:"user_agent" envconfig:"DRISSION_USER_AGENT"`
	Headers   http.Header `ini:"-" ignored:"true"`
}

// NewConfig returns a config holding the defaults, none of them marked set.
func NewConfig() Config {
	return Config{
		Address:         null.NewString("127.0.0.1:9222", false),
		LoadMode:        null.NewString(string(LoadNormal), false),
		TimeoutBase:     null.NewFloat(DefaultBaseTimeout.Seconds(), false),
		TimeoutPageLoad: null.NewFloat(DefaultPageLoadTimeout.Seconds(), false),
		TimeoutScript:   null.NewFloat(DefaultScriptTimeout.Seconds(), false),
		RetryTimes:      null.NewInt(3, false),
		RetryInterval:   null.NewFloat(2, false),
	}
}

// Apply overlays the set fields of cfg.
func (c Config) Apply(cfg Config) Config {
	if cfg.Address.Valid && cfg.Address.String != "" {
		c.Address = cfg.Address
	}
	if cfg.BrowserPath.Valid && cfg.BrowserPath.String != "" {
		c.BrowserPath = cfg.BrowserPath
	}
	if cfg.UserDataPath.Valid {
		c.UserDataPath = cfg.UserDataPath
	}
	if cfg.Headless.Valid {
		c.Headless = cfg.Headless
	}
	if cfg.ExistingOnly.Valid {
		c.ExistingOnly = cfg.ExistingOnly
	}
	if cfg.LoadMode.Valid && cfg.LoadMode.String != "" {
		c.LoadMode = cfg.LoadMode
	}
	if cfg.Proxy.Valid {
		c.Proxy = cfg.Proxy
	}
	if len(cfg.Arguments) > 0 {
		c.Arguments = append(append([]string(nil), c.Arguments...), cfg.Arguments...)
	}
	if cfg.DownloadPath.Valid {
		c.DownloadPath = cfg.DownloadPath
	}
	if cfg.TmpPath.Valid {
		c.TmpPath = cfg.TmpPath
	}
	if cfg.TimeoutBase.Valid {
		c.TimeoutBase = cfg.TimeoutBase
	}
	if cfg.TimeoutPageLoad.Valid {
		c.TimeoutPageLoad = cfg.TimeoutPageLoad
	}
	if cfg.TimeoutScript.Valid {
		c.TimeoutScript = cfg.TimeoutScript
	}
	if cfg.RetryTimes.Valid {
		c.RetryTimes = cfg.RetryTimes
	}
	if cfg.RetryInterval.Valid {
		c.RetryInterval = cfg.RetryInterval
	}
	if cfg.UserAgent.Valid {
		c.UserAgent = cfg.UserAgent
	}
	if len(cfg.Headers) > 0 {
		if c.Headers == nil {
			c.Headers = make(http.Header)
		}
		for k, v := range cfg.Headers {
			c.Headers[k] = v
		}
	}
	return c
}

// LoadConfig reads an INI file and overlays the DRISSION_* environment
// variables. lookup defaults to the process environment.
func LoadConfig(path string, lookup func(string) (string, bool)) (Config, error) {
	conf := NewConfig()
	if path != "" {
		fileConf, err := readINI(path)
		if err != nil {
			return conf, err
		}
		conf = conf.Apply(fileConf)
	}

	var envConf Config
	var err error
	if lookup != nil {
		err = envconfig.Process("", &envConf, lookup)
	} else {
		err = envconfig.Process("", &envConf)
	}
	if err != nil {
		return conf, fmt.Errorf("config: environment: %w", err)
	}
	return conf.Apply(envConf), nil
}

// readINI maps the sections paths, chromium_options, session_options,
// timeouts and others onto a Config.
func readINI(path string) (Config, error) {
	var conf Config
	f, err := ini.Load(path)
	if err != nil {
		return conf, fmt.Errorf("config: %w", err)
	}

	paths := f.Section("paths")
	conf.DownloadPath = iniString(paths, "download_path")
	conf.TmpPath = iniString(paths, "tmp_path")

	co := f.Section("chromium_options")
	conf.Address = iniString(co, "address")
	conf.BrowserPath = iniString(co, "browser_path")
	conf.UserDataPath = iniString(co, "user_data_path")
	conf.LoadMode = iniString(co, "load_mode")
	if conf.Headless, err = iniBool(co, "headless"); err != nil {
		return conf, err
	}
	if conf.ExistingOnly, err = iniBool(co, "existing_only"); err != nil {
		return conf, err
	}
	if co.HasKey("arguments") {
		conf.Arguments = splitList(co.Key("arguments").String())
	}

	so := f.Section("session_options")
	conf.UserAgent = iniString(so, "user_agent")
	if so.HasKey("headers") {
		conf.Headers = make(http.Header)
		for _, line := range splitList(so.Key("headers").String()) {
			if i := strings.IndexByte(line, ':'); i > 0 {
				conf.Headers.Add(strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]))
			}
		}
	}
	conf.Proxy = iniString(f.Section("proxies"), "http")

	to := f.Section("timeouts")
	for key, dst := range map[string]*null.Float{
		"base":      &conf.TimeoutBase,
		"page_load": &conf.TimeoutPageLoad,
		"script":    &conf.TimeoutScript,
	} {
		if *dst, err = iniFloat(to, key); err != nil {
			return conf, err
		}
	}

	others := f.Section("others")
	if others.HasKey("retry_times") {
		n, err := others.Key("retry_times").Int64()
		if err != nil {
			return conf, fmt.Errorf("config: others.retry_times: %w", err)
		}
		conf.RetryTimes = null.IntFrom(n)
	}
	if conf.RetryInterval, err = iniFloat(others, "retry_interval"); err != nil {
		return conf, err
	}
	return conf, nil
}

func iniString(sec *ini.Section, key string) null.String {
	if !sec.HasKey(key) {
		return null.String{}
	}
	return null.StringFrom(sec.Key(key).String())
}

func iniBool(sec *ini.Section, key string) (null.Bool, error) {
	if !sec.HasKey(key) {
		return null.Bool{}, nil
	}
	v, err := sec.Key(key).Bool()
	if err != nil {
		return null.Bool{}, fmt.Errorf("config: %s.%s: %w", sec.Name(), key, err)
	}
	return null.BoolFrom(v), nil
}

func iniFloat(sec *ini.Section, key string) (null.Float, error) {
	if !sec.HasKey(key) {
		return null.Float{}, nil
	}
	v, err := sec.Key(key).Float64()
	if err != nil {
		return null.Float{}, fmt.Errorf("config: %s.%s: %w", sec.Name(), key, err)
	}
	return null.FloatFrom(v), nil
}

// splitList accepts "a, b", "['a', 'b']" and newline separated lists.
func splitList(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' }) {
		part = strings.Trim(strings.TrimSpace(part), `'"`)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func seconds(f null.Float) time.Duration {
	return time.Duration(f.Float64 * float64(time.Second))
}

// Timeouts returns the configured timeouts.
func (c Config) Timeouts() Timeouts {
	return Timeouts{
		Base:     seconds(c.TimeoutBase),
		PageLoad: seconds(c.TimeoutPageLoad),
		Script:   seconds(c.TimeoutScript),
	}.merge(DefaultTimeouts())
}

// BrowserOptions turns the config into options for Connect.
func (c Config) BrowserOptions() []BrowserOption {
	opts := []BrowserOption{
		WithTimeouts(c.Timeouts()),
		WithLoadMode(LoadMode(c.LoadMode.String)),
		WithRetry(int(c.RetryTimes.Int64), seconds(c.RetryInterval)),
	}
	if c.Address.String != "" {
		opts = append(opts, WithAddress(c.Address.String))
	}
	if c.ExistingOnly.Bool {
		opts = append(opts, WithExistingOnly())
	}
	if c.DownloadPath.String != "" {
		opts = append(opts, WithDownloadPath(c.DownloadPath.String))
	}
	if c.TmpPath.String != "" {
		opts = append(opts, WithTmpPath(c.TmpPath.String))
	}

	var ro []runner.CommandLineOption
	if c.BrowserPath.String != "" {
		ro = append(ro, runner.ExecPath(c.BrowserPath.String))
	}
	if c.UserDataPath.String != "" {
		ro = append(ro, runner.UserDataDir(c.UserDataPath.String))
	}
	if c.Headless.Bool {
		ro = append(ro, runner.Headless)
	}
	if c.Proxy.String != "" {
		ro = append(ro, runner.ProxyServer(c.Proxy.String))
	}
	if c.UserAgent.String != "" {
		ro = append(ro, runner.UserAgent(c.UserAgent.String))
	}
	for _, a := range c.Arguments {
		ro = append(ro, runner.Arg(a))
	}
	if len(ro) > 0 {
		opts = append(opts, WithRunnerOptions(ro...))
	}
	return opts
}

// SessionOptions turns the config into options for session.New.
func (c Config) SessionOptions() []session.Option {
	opts := []session.Option{
		session.WithRetry(int(c.RetryTimes.Int64), seconds(c.RetryInterval)),
	}
	if c.TimeoutBase.Valid {
		opts = append(opts, session.WithTimeout(seconds(c.TimeoutBase)))
	}
	if len(c.Headers) > 0 {
		opts = append(opts, session.WithHeaders(c.Headers))
	}
	if c.UserAgent.String != "" {
		opts = append(opts, session.WithUserAgent(c.UserAgent.String))
	}
	if c.Proxy.String != "" {
		opts = append(opts, session.WithProxy(c.Proxy.String))
	}
	return opts
}

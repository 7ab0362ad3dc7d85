// Package config provides configuration management for rescale-drive.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/rescale/rescale-drive/internal/constants"
)

// Config is the full client configuration.
//
// Config file location:
//   - Windows: %USERPROFILE%\.config\rescale-drive\config.ini
//   - Unix: ~/.config/rescale-drive/config.ini
//
// INI format:
//
//	[store]
//	backend = http
//	base_url = https://drive.example.com
//	api_key = <token>
//
//	[s3]
//	bucket = my-bucket
//	region = us-east-1
//
//	[transfer]
//	max_upload_mb = 100
//	allowed_mime_types = image/*, application/pdf
//
//	[view]
//	page_size = 9
//	sort = default
//
//	[proxy]
//	mode = no-proxy
type Config struct {
	Store    StoreConfig
	S3       S3Config
	Azure    AzureConfig
	OSS      OSSConfig
	Transfer TransferConfig
	View     ViewConfig
	Proxy    ProxyConfig
}

// StoreConfig selects and addresses the backend.
type StoreConfig struct {
	// Backend is one of http, s3, azure, oss or memory.
	Backend string
	// BaseURL of the drive REST API (http backend).
	BaseURL string
	APIKey  string
	// RootFolderID is the folder shown as root; empty means the store root.
	RootFolderID string
	// RequestsPerSecond throttles API calls; 0 disables throttling.
	RequestsPerSecond float64
}

// S3Config addresses an S3 (or S3-compatible) bucket.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// AzureConfig addresses an Azure Blob Storage container.
type AzureConfig struct {
	ConnectionString string
	Container        string
	Prefix           string
}

// OSSConfig addresses an Aliyun OSS bucket.
type OSSConfig struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	AccessKeySecret string
	Prefix          string
}

// TransferConfig holds upload, archive and preview limits.
type TransferConfig struct {
	MaxUploadMB        int
	AllowedMIMETypes   []string
	PreviewMIMETypes   []string // empty uses the built-in list
	ArchiveConcurrency int
	// HTTPRetries is the number of whole-action retries; 0 fails fast.
	HTTPRetries int
}

// ViewConfig holds listing defaults.
type ViewConfig struct {
	PageSize    int
	Sort        string
	ShowFolders bool
}

// ProxyConfig configures the outbound HTTP proxy.
type ProxyConfig struct {
	Mode     string // no-proxy, system, basic, ntlm
	Host     string
	Port     int
	User     string
	Password string
	NoProxy  string
	Warmup   bool
}

// Supported backends.
const (
	BackendHTTP   = "http"
	BackendS3     = "s3"
	BackendAzure  = "azure"
	BackendOSS    = "oss"
	BackendMemory = "memory"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RESCALE_DRIVE_"

// ConfigDir is the directory under ~/.config holding the config file.
const ConfigDir = "rescale-drive"

// Validation errors
var (
	ErrUnknownBackend           = errors.New("backend must be one of http, s3, azure, oss, memory")
	ErrMissingBaseURL           = errors.New("base_url is required for the http backend")
	ErrMissingAPIKey            = errors.New("api_key is required for the http backend")
	ErrMissingBucket            = errors.New("bucket is required")
	ErrMissingAzureConnection   = errors.New("connection_string and container are required for the azure backend")
	ErrMissingOSSCredentials    = errors.New("endpoint, access_key_id and access_key_secret are required for the oss backend")
	ErrInvalidPageSize          = errors.New("page_size must be between 1 and 1000")
	ErrInvalidMaxUpload         = errors.New("max_upload_mb must not be negative")
	ErrInvalidArchiveWorkers    = errors.New("archive_concurrency must be between 1 and 16")
	ErrInvalidRetries           = errors.New("http_retries must not be negative")
	ErrInvalidProxyMode         = errors.New("proxy mode must be one of no-proxy, system, basic, ntlm")
	ErrMissingProxyHost         = errors.New("proxy host is required for basic and ntlm modes")
	ErrInvalidRequestsPerSecond = errors.New("requests_per_second must not be negative")
)

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:           BackendHTTP,
			RequestsPerSecond: constants.DefaultRequestsPerSecond,
		},
		S3: S3Config{Region: "us-east-1"},
		Transfer: TransferConfig{
			MaxUploadMB:        constants.DefaultMaxUploadBytes / (1024 * 1024),
			ArchiveConcurrency: constants.DefaultArchiveConcurrency,
		},
		View: ViewConfig{
			PageSize:    constants.DefaultPageSize,
			Sort:        "default",
			ShowFolders: true,
		},
		Proxy: ProxyConfig{Mode: "no-proxy", Port: 8080},
	}
}

// Load reads the INI file at path and applies environment overrides.
// A missing file yields defaults. An empty path uses DefaultConfigPath.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		if p, err := DefaultConfigPath(); err == nil {
			path = p
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			iniFile, err := ini.Load(path)
			if err != nil {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
			cfg.readINI(iniFile)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) readINI(f *ini.File) {
	s := f.Section("store")
	cfg.Store.Backend = strings.ToLower(s.Key("backend").MustString(cfg.Store.Backend))
	cfg.Store.BaseURL = s.Key("base_url").String()
	cfg.Store.APIKey = s.Key("api_key").String()
	cfg.Store.RootFolderID = s.Key("root_folder_id").String()
	cfg.Store.RequestsPerSecond = s.Key("requests_per_second").MustFloat64(cfg.Store.RequestsPerSecond)

	s = f.Section("s3")
	cfg.S3.Bucket = s.Key("bucket").String()
	cfg.S3.Region = s.Key("region").MustString(cfg.S3.Region)
	cfg.S3.Endpoint = s.Key("endpoint").String()
	cfg.S3.Prefix = s.Key("prefix").String()
	cfg.S3.AccessKeyID = s.Key("access_key_id").String()
	cfg.S3.SecretAccessKey = s.Key("secret_access_key").String()
	cfg.S3.UsePathStyle = s.Key("use_path_style").MustBool(false)

	s = f.Section("azure")
	cfg.Azure.ConnectionString = s.Key("connection_string").String()
	cfg.Azure.Container = s.Key("container").String()
	cfg.Azure.Prefix = s.Key("prefix").String()

	s = f.Section("oss")
	cfg.OSS.Endpoint = s.Key("endpoint").String()
	cfg.OSS.Bucket = s.Key("bucket").String()
	cfg.OSS.AccessKeyID = s.Key("access_key_id").String()
	cfg.OSS.AccessKeySecret = s.Key("access_key_secret").String()
	cfg.OSS.Prefix = s.Key("prefix").String()

	s = f.Section("transfer")
	cfg.Transfer.MaxUploadMB = s.Key("max_upload_mb").MustInt(cfg.Transfer.MaxUploadMB)
	cfg.Transfer.AllowedMIMETypes = splitList(s.Key("allowed_mime_types").String())
	cfg.Transfer.PreviewMIMETypes = splitList(s.Key("preview_mime_types").String())
	cfg.Transfer.ArchiveConcurrency = s.Key("archive_concurrency").MustInt(cfg.Transfer.ArchiveConcurrency)
	cfg.Transfer.HTTPRetries = s.Key("http_retries").MustInt(0)

	s = f.Section("view")
	cfg.View.PageSize = s.Key("page_size").MustInt(cfg.View.PageSize)
	cfg.View.Sort = s.Key("sort").MustString(cfg.View.Sort)
	cfg.View.ShowFolders = s.Key("show_folders").MustBool(cfg.View.ShowFolders)

	s = f.Section("proxy")
	cfg.Proxy.Mode = strings.ToLower(s.Key("mode").MustString(cfg.Proxy.Mode))
	cfg.Proxy.Host = s.Key("host").String()
	cfg.Proxy.Port = s.Key("port").MustInt(cfg.Proxy.Port)
	cfg.Proxy.User = s.Key("user").String()
	cfg.Proxy.Password = s.Key("password").String()
	cfg.Proxy.NoProxy = s.Key("no_proxy").String()
	cfg.Proxy.Warmup = s.Key("warmup").MustBool(false)
}

// ApplyEnv overrides fields from RESCALE_DRIVE_* variables found by lookup.
func (cfg *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("BACKEND", &cfg.Store.Backend)
	str("API_URL", &cfg.Store.BaseURL)
	str("API_KEY", &cfg.Store.APIKey)
	str("ROOT_FOLDER_ID", &cfg.Store.RootFolderID)
	str("S3_BUCKET", &cfg.S3.Bucket)
	str("S3_REGION", &cfg.S3.Region)
	str("S3_ENDPOINT", &cfg.S3.Endpoint)
	str("S3_PREFIX", &cfg.S3.Prefix)
	str("AZURE_CONNECTION_STRING", &cfg.Azure.ConnectionString)
	str("AZURE_CONTAINER", &cfg.Azure.Container)
	str("OSS_ENDPOINT", &cfg.OSS.Endpoint)
	str("OSS_BUCKET", &cfg.OSS.Bucket)
	str("OSS_ACCESS_KEY_ID", &cfg.OSS.AccessKeyID)
	str("OSS_ACCESS_KEY_SECRET", &cfg.OSS.AccessKeySecret)
	str("PROXY_MODE", &cfg.Proxy.Mode)
	str("PROXY_HOST", &cfg.Proxy.Host)
	str("PROXY_PASSWORD", &cfg.Proxy.Password)

	for name, dst := range map[string]*int{
		"PAGE_SIZE":           &cfg.View.PageSize,
		"MAX_UPLOAD_MB":       &cfg.Transfer.MaxUploadMB,
		"ARCHIVE_CONCURRENCY": &cfg.Transfer.ArchiveConcurrency,
		"HTTP_RETRIES":        &cfg.Transfer.HTTPRetries,
		"PROXY_PORT":          &cfg.Proxy.Port,
	} {
		if err := num(name, dst); err != nil {
			return err
		}
	}
	cfg.Store.Backend = strings.ToLower(cfg.Store.Backend)
	cfg.Proxy.Mode = strings.ToLower(cfg.Proxy.Mode)
	return nil
}

// Save writes cfg to path atomically with owner-only permissions.
// The proxy password is never written.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f := ini.Empty()
	sections := []struct {
		name   string
		values [][2]string
	}{
		{"store", [][2]string{
			{"backend", cfg.Store.Backend},
			{"base_url", cfg.Store.BaseURL},
			{"api_key", cfg.Store.APIKey},
			{"root_folder_id", cfg.Store.RootFolderID},
			{"requests_per_second", strconv.FormatFloat(cfg.Store.RequestsPerSecond, 'f', -1, 64)},
		}},
		{"s3", [][2]string{
			{"bucket", cfg.S3.Bucket},
			{"region", cfg.S3.Region},
			{"endpoint", cfg.S3.Endpoint},
			{"prefix", cfg.S3.Prefix},
			{"access_key_id", cfg.S3.AccessKeyID},
			{"secret_access_key", cfg.S3.SecretAccessKey},
			{"use_path_style", strconv.FormatBool(cfg.S3.UsePathStyle)},
		}},
		{"azure", [][2]string{
			{"connection_string", cfg.Azure.ConnectionString},
			{"container", cfg.Azure.Container},
			{"prefix", cfg.Azure.Prefix},
		}},
		{"oss", [][2]string{
			{"endpoint", cfg.OSS.Endpoint},
			{"bucket", cfg.OSS.Bucket},
			{"access_key_id", cfg.OSS.AccessKeyID},
			{"access_key_secret", cfg.OSS.AccessKeySecret},
			{"prefix", cfg.OSS.Prefix},
		}},
		{"transfer", [][2]string{
			{"max_upload_mb", strconv.Itoa(cfg.Transfer.MaxUploadMB)},
			{"allowed_mime_types", strings.Join(cfg.Transfer.AllowedMIMETypes, ", ")},
			{"preview_mime_types", strings.Join(cfg.Transfer.PreviewMIMETypes, ", ")},
			{"archive_concurrency", strconv.Itoa(cfg.Transfer.ArchiveConcurrency)},
			{"http_retries", strconv.Itoa(cfg.Transfer.HTTPRetries)},
		}},
		{"view", [][2]string{
			{"page_size", strconv.Itoa(cfg.View.PageSize)},
			{"sort", cfg.View.Sort},
			{"show_folders", strconv.FormatBool(cfg.View.ShowFolders)},
		}},
		{"proxy", [][2]string{
			{"mode", cfg.Proxy.Mode},
			{"host", cfg.Proxy.Host},
			{"port", strconv.Itoa(cfg.Proxy.Port)},
			{"user", cfg.Proxy.User},
			{"no_proxy", cfg.Proxy.NoProxy},
			{"warmup", strconv.FormatBool(cfg.Proxy.Warmup)},
		}},
	}
	for _, sec := range sections {
		s, err := f.NewSection(sec.name)
		if err != nil {
			return fmt.Errorf("failed to create %s section: %w", sec.name, err)
		}
		for _, kv := range sec.values {
			s.Key(kv[0]).SetValue(kv[1])
		}
	}

	// Use temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := f.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// Validate checks the settings the selected backend needs.
func (cfg *Config) Validate() error {
	switch cfg.Store.Backend {
	case BackendHTTP:
		if strings.TrimSpace(cfg.Store.BaseURL) == "" {
			return ErrMissingBaseURL
		}
		if strings.TrimSpace(cfg.Store.APIKey) == "" {
			return ErrMissingAPIKey
		}
	case BackendS3:
		if cfg.S3.Bucket == "" {
			return fmt.Errorf("s3: %w", ErrMissingBucket)
		}
	case BackendAzure:
		if cfg.Azure.ConnectionString == "" || cfg.Azure.Container == "" {
			return ErrMissingAzureConnection
		}
	case BackendOSS:
		if cfg.OSS.Bucket == "" {
			return fmt.Errorf("oss: %w", ErrMissingBucket)
		}
		if cfg.OSS.Endpoint == "" || cfg.OSS.AccessKeyID == "" || cfg.OSS.AccessKeySecret == "" {
			return ErrMissingOSSCredentials
		}
	case BackendMemory:
	default:
		return ErrUnknownBackend
	}

	if cfg.Store.RequestsPerSecond < 0 {
		return ErrInvalidRequestsPerSecond
	}
	if cfg.View.PageSize < 1 || cfg.View.PageSize > constants.MaxPageSize {
		return ErrInvalidPageSize
	}
	if cfg.Transfer.MaxUploadMB < 0 {
		return ErrInvalidMaxUpload
	}
	if cfg.Transfer.ArchiveConcurrency < 1 || cfg.Transfer.ArchiveConcurrency > constants.MaxArchiveConcurrency {
		return ErrInvalidArchiveWorkers
	}
	if cfg.Transfer.HTTPRetries < 0 {
		return ErrInvalidRetries
	}

	switch cfg.Proxy.Mode {
	case "", "no-proxy", "system":
	case "basic", "ntlm":
		if cfg.Proxy.Host == "" {
			return ErrMissingProxyHost
		}
	default:
		return ErrInvalidProxyMode
	}
	return nil
}

// MaxUploadBytes returns the per-file cap in bytes; 0 disables it.
func (cfg *Config) MaxUploadBytes() int64 {
	return int64(cfg.Transfer.MaxUploadMB) * 1024 * 1024
}

// Redacted returns a copy with secrets masked, for display.
func (cfg *Config) Redacted() Config {
	c := *cfg
	c.Store.APIKey = mask(c.Store.APIKey)
	c.S3.SecretAccessKey = mask(c.S3.SecretAccessKey)
	c.Azure.ConnectionString = mask(c.Azure.ConnectionString)
	c.OSS.AccessKeySecret = mask(c.OSS.AccessKeySecret)
	c.Proxy.Password = mask(c.Proxy.Password)
	return c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

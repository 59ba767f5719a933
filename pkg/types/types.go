// Package types defines the domain entities shared by every component of
// Tom: devices, credentials, jobs, cache entries, device leases, parser
// templates and authorization policy.
package types

import "time"

// Adapter identifies which transport family a DeviceDescriptor connects
// through.
type Adapter string

const (
	AdapterA Adapter = "adapter_a"
	AdapterB Adapter = "adapter_b"
)

// DeviceDescriptor is the resolved connection information for one device,
// produced on demand by the active inventory plugin.
type DeviceDescriptor struct {
	Name           string            `json:"name"`
	Host           string            `json:"host"`
	Port           int               `json:"port"`
	Adapter        Adapter           `json:"adapter"`
	AdapterDriver  string            `json:"adapter_driver"`
	CredentialID   string            `json:"credential_id"`
	AdapterOptions map[string]string `json:"adapter_options,omitempty"`
}

// Validate checks the invariants required of a DeviceDescriptor returned
// by an inventory plugin: a missing host is always an error.
func (d *DeviceDescriptor) Validate() error {
	if d.Host == "" {
		return errMissingHost
	}
	if d.Port == 0 {
		d.Port = 22
	}
	return nil
}

// Credential is a username/password pair. Password is never logged, never
// placed in job payloads that transit the queue, and is discarded as soon
// as the transport session that used it closes.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"-"`
}

// String implements fmt.Stringer so an accidental %v/%s never leaks the
// secret.
func (c Credential) String() string {
	return "Credential{Username: " + c.Username + ", Password: [redacted]}"
}

// JobStatus is one of the states in the job lifecycle state machine.
type JobStatus string

const (
	JobStatusNew      JobStatus = "NEW"
	JobStatusQueued   JobStatus = "QUEUED"
	JobStatusActive   JobStatus = "ACTIVE"
	JobStatusComplete JobStatus = "COMPLETE"
	JobStatusFailed   JobStatus = "FAILED"
	JobStatusAborted  JobStatus = "ABORTED"
)

// Terminal reports whether the status is one from which no further
// transition is possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusComplete, JobStatusFailed, JobStatusAborted:
		return true
	default:
		return false
	}
}

// RetryHint classifies a failure for retry accounting purposes.
type RetryHint string

const (
	RetryTransient RetryHint = "TRANSIENT"
	RetryFatal     RetryHint = "FATAL"
)

// CommandSpec allows per-command parsing control within a multi-command
// job. Unset fields fall back to the request-level parse settings.
type CommandSpec struct {
	Command     string  `json:"command"`
	Parse       *bool   `json:"parse,omitempty"`
	Parser      *string `json:"parser,omitempty"`
	Template    *string `json:"template,omitempty"`
	IncludeRaw  *bool   `json:"include_raw,omitempty"`
}

// JobPayload is the durable, queue-transiting description of the work a
// worker must perform.
type JobPayload struct {
	Host             string            `json:"host"`
	Port             int               `json:"port"`
	Adapter          Adapter           `json:"adapter"`
	AdapterDriver    string            `json:"adapter_driver"`
	Commands         []CommandSpec     `json:"commands"`
	CredentialRef    string            `json:"credential_ref"`
	CredentialOverride *Credential     `json:"credential_override,omitempty"`
	AdapterOptions   map[string]string `json:"adapter_options,omitempty"`
	RetriesRemaining int               `json:"retries_remaining"`
	MaxQueueWaitS    int               `json:"max_queue_wait_s"`
	TimeoutS         int               `json:"timeout_s"`
	UseCache         bool              `json:"use_cache"`
	CacheTTLS        int               `json:"cache_ttl_s,omitempty"`
	CacheRefresh     bool              `json:"cache_refresh"`
}

// JobMetadata is bookkeeping preserved for retrieval-time operations, in
// particular controller-side re-parsing of stored raw output.
type JobMetadata struct {
	DeviceName     string        `json:"device_name,omitempty"`
	DevicePlatform string        `json:"device_platform,omitempty"`
	Commands       []CommandSpec `json:"commands"`
	Parse          bool          `json:"parse,omitempty"`
	Parser         string        `json:"parser,omitempty"`
	Template       string        `json:"template,omitempty"`
	IncludeRaw     bool          `json:"include_raw,omitempty"`
}

// CacheStatus describes the outcome of a cache lookup for one command
// within a job.
type CacheStatus string

const (
	CacheHit     CacheStatus = "HIT"
	CacheMiss    CacheStatus = "MISS"
	CacheRefresh CacheStatus = "REFRESH"
	CacheBypass  CacheStatus = "BYPASS"
)

// CommandCacheMeta reports per-command cache status in the job result.
type CommandCacheMeta struct {
	Status     CacheStatus `json:"cache_status"`
	CachedAt   *time.Time  `json:"cached_at,omitempty"`
	AgeSeconds *float64    `json:"age_seconds,omitempty"`
}

// ResultMeta wraps per-command cache reporting for a completed job.
type ResultMeta struct {
	Cache map[string]CommandCacheMeta `json:"cache"`
}

// JobResult is present iff a Job's status is COMPLETE.
type JobResult struct {
	Data map[string]string `json:"data"`
	Meta ResultMeta        `json:"meta"`
}

// JobError is present iff a Job's status is FAILED.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Job is the unit of work tracked by the queue/lifecycle manager.
type Job struct {
	ID         string      `json:"job_id"`
	Status     JobStatus   `json:"status"`
	Attempts   int         `json:"attempts"`
	Payload    JobPayload  `json:"payload"`
	Metadata   JobMetadata `json:"metadata"`
	Result     *JobResult  `json:"result,omitempty"`
	Error      *JobError   `json:"error,omitempty"`
	ConsumerID string      `json:"consumer_id,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	AcquiredAt *time.Time  `json:"acquired_at,omitempty"`
	LastTick   *time.Time  `json:"last_tick,omitempty"`
}

// CacheEntry is the stored value for one (device, command) fingerprint.
type CacheEntry struct {
	RawOutput string    `json:"raw_output"`
	CachedAt  time.Time `json:"cached_at"`
	TTLS      int       `json:"ttl_s"`
}

// Expired reports whether the entry is older than its TTL as of now.
func (c CacheEntry) Expired(now time.Time) bool {
	return now.Sub(c.CachedAt) >= time.Duration(c.TTLS)*time.Second
}

// DeviceLease is the logical per-device mutual-exclusion token.
type DeviceLease struct {
	DeviceKey  string    `json:"device_key"`
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// TemplateSource identifies where a resolved parser template came from.
type TemplateSource string

const (
	TemplateSourceCustom   TemplateSource = "CUSTOM"
	TemplateSourceBuiltin  TemplateSource = "BUILTIN"
	TemplateSourceExplicit TemplateSource = "EXPLICIT"
	TemplateSourceInline   TemplateSource = "INLINE"
)

// TemplateEntry is one row of a parser template index.
type TemplateEntry struct {
	Filename      string
	HostnameRegex string
	PlatformKey   string
	CommandRegex  string
	Source        TemplateSource
}

// ProviderPolicy authorizes principals after successful authentication.
// Matching is case-insensitive; any match grants; all-empty permits any
// authenticated principal.
type ProviderPolicy struct {
	AllowedUsers      []string `yaml:"allowed_users"`
	AllowedDomains    []string `yaml:"allowed_domains"`
	AllowedUserRegex  []string `yaml:"allowed_user_regex"`
}

// errMissingHost is returned by DeviceDescriptor.Validate; kept unexported
// since callers should wrap it with tomerr.NotFound/tomerr.Internal as
// appropriate for their layer.
var errMissingHost = missingHostError{}

type missingHostError struct{}

func (missingHostError) Error() string { return "device descriptor missing host" }

// Package serverconfig decodes the merged jsonconfig.Obj produced from one
// or more command-line configuration files into a typed Config, the
// snapshot threaded explicitly through the ServerContext (see spec.md §9,
// "Global mutable state" — configuration is a value, not a singleton).
package serverconfig

import "pacsd/pkg/jsonconfig"

// Config is the full, typed configuration snapshot for one pacsd process.
// A reload replaces the whole value atomically; nothing here is mutated
// in place.
type Config struct {
	HTTP HTTPConfig
	DICOM DICOMConfig
	Auth  AuthConfig
	Jobs  JobsConfig
	Index IndexConfig
	StorageDirectory string
}

type HTTPConfig struct {
	Port                int
	RemoteAccessAllowed bool
	HTTPDescribeErrors  bool
	HTTPCompression     bool
	KeepAliveTimeoutSec int
	RequestTimeoutSec   int
	ThreadCount         int
	TLSCertFile         string
	TLSKeyFile          string
}

type DICOMConfig struct {
	AETitle           string
	Port              int
	CheckCalledAET    bool
	ModalitiesAccepted map[string]Modality
}

// Modality is a configured remote AE (a DICOM peer), used both for the
// AET allow-list (§4.9) and for resolving a C-MOVE destination (§4.8).
type Modality struct {
	AETitle string
	Host    string
	Port    int
	Manufacturer string
}

type AuthConfig struct {
	RemoteAccessAllowed bool
	RegisteredUsers     map[string]string // username -> base64(user:pass), see pkg/policy
	AuthenticationEnabled bool
}

type JobsConfig struct {
	WorkerCount      int
	MaxRetries       int
	RetryBaseDelayMs int
	RetryMaxDelayMs  int
}

type IndexConfig struct {
	Backend string // "memory" | "postgres" | "mysql" | "leveldb"

	// File backs the "leveldb" backend.
	File string

	// Host, User, Password, Database, SSLMode back the "postgres" and
	// "mysql" backends (SSLMode is postgres-only; ignored otherwise).
	Host     string
	User     string
	Password string
	Database string
	SSLMode  string
}

// Default returns the configuration defaults named throughout spec.md §6:
// AET "ORTHANC", DICOM port 4242, HTTP port 8042.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:                8042,
			HTTPDescribeErrors:  true,
			HTTPCompression:     true,
			KeepAliveTimeoutSec: 10,
			RequestTimeoutSec:   30,
			ThreadCount:         50,
		},
		DICOM: DICOMConfig{
			AETitle:            "ORTHANC",
			Port:               4242,
			CheckCalledAET:     false,
			ModalitiesAccepted: map[string]Modality{},
		},
		Jobs: JobsConfig{
			WorkerCount:      4,
			MaxRetries:       5,
			RetryBaseDelayMs: 500,
			RetryMaxDelayMs:  60000,
		},
		Index: IndexConfig{Backend: "memory"},
		StorageDirectory: "./pacsd-storage",
	}
}

// Load decodes cfg on top of Default(), validating that every key in cfg
// was consumed (jsonconfig.Obj.Validate semantics).
func Load(cfg jsonconfig.Obj) (Config, error) {
	c := Default()

	if v := cfg.OptionalObject("HttpServer"); len(v) > 0 {
		c.HTTP.Port = v.OptionalInt("Port", c.HTTP.Port)
		c.HTTP.RemoteAccessAllowed = v.OptionalBool("RemoteAccessAllowed", c.HTTP.RemoteAccessAllowed)
		c.HTTP.HTTPDescribeErrors = v.OptionalBool("HttpDescribeErrors", c.HTTP.HTTPDescribeErrors)
		c.HTTP.HTTPCompression = v.OptionalBool("HttpCompressionEnabled", c.HTTP.HTTPCompression)
		c.HTTP.KeepAliveTimeoutSec = v.OptionalInt("KeepAliveTimeout", c.HTTP.KeepAliveTimeoutSec)
		c.HTTP.RequestTimeoutSec = v.OptionalInt("RequestTimeout", c.HTTP.RequestTimeoutSec)
		c.HTTP.ThreadCount = v.OptionalInt("HttpThreadsCount", c.HTTP.ThreadCount)
		c.HTTP.TLSCertFile = v.OptionalString("SslCertificate", "")
		c.HTTP.TLSKeyFile = v.OptionalString("SslKey", "")
	}

	if v := cfg.OptionalObject("DicomServer"); len(v) > 0 {
		c.DICOM.AETitle = v.OptionalString("AET", c.DICOM.AETitle)
		c.DICOM.Port = v.OptionalInt("Port", c.DICOM.Port)
		c.DICOM.CheckCalledAET = v.OptionalBool("DicomCheckCalledAet", c.DICOM.CheckCalledAET)
	}

	if v := cfg.OptionalObject("Jobs"); len(v) > 0 {
		c.Jobs.WorkerCount = v.OptionalInt("WorkerCount", c.Jobs.WorkerCount)
		c.Jobs.MaxRetries = v.OptionalInt("MaxRetries", c.Jobs.MaxRetries)
	}

	if v := cfg.OptionalObject("Index"); len(v) > 0 {
		c.Index.Backend = v.OptionalString("Backend", c.Index.Backend)
		c.Index.File = v.OptionalString("File", c.Index.File)
		c.Index.Host = v.OptionalString("Host", c.Index.Host)
		c.Index.User = v.OptionalString("User", c.Index.User)
		c.Index.Password = v.OptionalString("Password", c.Index.Password)
		c.Index.Database = v.OptionalString("Database", c.Index.Database)
		c.Index.SSLMode = v.OptionalString("SSLMode", c.Index.SSLMode)
	}

	c.StorageDirectory = cfg.OptionalString("StorageDirectory", c.StorageDirectory)

	return c, cfg.Validate()
}

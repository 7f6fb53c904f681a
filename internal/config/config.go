package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/geo"
)

type Paths struct {
	DataDir      string
	UploadsDir   string
	DocsFile     string
	AccountsFile string
	SessionFile  string
}

func DefaultPaths() Paths {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "/data"
		if _, err := os.Stat(dataDir); err != nil {
			dataDir = filepath.Join(".", "data")
		}
	}
	return Paths{
		DataDir:      dataDir,
		UploadsDir:   filepath.Join(dataDir, "uploads"),
		DocsFile:     filepath.Join(dataDir, "docs.json"),
		AccountsFile: filepath.Join(dataDir, "accounts.json"),
		SessionFile:  filepath.Join(dataDir, "session.json"),
	}
}

func EnsureDir(dir string) error { return os.MkdirAll(dir, 0o755) }

// Config is everything the process reads from the environment.
type Config struct {
	Paths Paths

	// LocalMode runs against the in-memory store instead of Firebase.
	LocalMode bool
	Seed      bool

	ProjectID          string
	ServiceAccountJSON string
	CredentialsFile    string
	AuthEmulatorHost   string
	APIKey             string
	StorageBucket      string

	ListenAddr string
	PublicURL  string

	FeedRadius      float64
	Origin          *geo.Point
	MutationTimeout time.Duration
}

// Load reads .env files (missing ones are ignored) and then the
// environment.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		jww.INFO.Printf("no .env file loaded (%v), using process environment", err)
	}

	c := Config{
		Paths:              DefaultPaths(),
		LocalMode:          os.Getenv("LOCAL_MODE") == "1" || os.Getenv("NO_AUTH") == "1",
		Seed:               os.Getenv("SEED") != "0",
		ProjectID:          os.Getenv("FIREBASE_PROJECT_ID"),
		ServiceAccountJSON: os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON"),
		CredentialsFile:    os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		AuthEmulatorHost:   os.Getenv("FIREBASE_AUTH_EMULATOR_HOST"),
		APIKey:             os.Getenv("FIREBASE_API_KEY"),
		StorageBucket:      os.Getenv("FIREBASE_STORAGE_BUCKET"),
		ListenAddr:         envOr("LISTEN_ADDR", ":8080"),
		FeedRadius:         geo.DefaultRadiusMeters,
		MutationTimeout:    10 * time.Second,
	}
	c.PublicURL = envOr("PUBLIC_URL", "http://localhost"+c.ListenAddr)

	if v := os.Getenv("FEED_RADIUS_METERS"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r <= 0 {
			return c, errs.Validation("FEED_RADIUS_METERS=%q must be a positive number", v)
		}
		c.FeedRadius = r
	}
	if v := os.Getenv("MUTATION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return c, errs.Validation("MUTATION_TIMEOUT=%q must be a positive duration", v)
		}
		c.MutationTimeout = d
	}

	lat, lng := os.Getenv("ORIGIN_LAT"), os.Getenv("ORIGIN_LNG")
	if lat != "" || lng != "" {
		p, err := parsePoint(lat, lng)
		if err != nil {
			return c, err
		}
		c.Origin = &p
	}

	if !c.LocalMode && c.ProjectID == "" {
		return c, errs.Validation("FIREBASE_PROJECT_ID not set (or set LOCAL_MODE=1)")
	}
	return c, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parsePoint(lat, lng string) (geo.Point, error) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return geo.Point{}, errors.Wrapf(errs.ErrValidation, "ORIGIN_LAT=%q", lat)
	}
	ln, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return geo.Point{}, errors.Wrapf(errs.ErrValidation, "ORIGIN_LNG=%q", lng)
	}
	p := geo.Point{Lat: la, Lng: ln}
	if !p.Valid() {
		return geo.Point{}, errs.Validation("origin %s out of range", p)
	}
	return p, nil
}

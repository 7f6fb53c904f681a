package config

import (
	"context"
	"os"

	"cloud.google.com/go/firestore"
	gcs "cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	identitytoolkit "google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"
)

// Firebase holds the initialised SDK clients.
type Firebase struct {
	App       *firebase.App
	Firestore *firestore.Client
	Auth      *auth.Client
	Bucket    *gcs.BucketHandle
	Toolkit   *identitytoolkit.Service
}

func (c Config) clientOptions() ([]option.ClientOption, error) {
	var opts []option.ClientOption
	if c.ServiceAccountJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(c.ServiceAccountJSON)))
	} else if c.CredentialsFile != "" {
		if _, err := os.Stat(c.CredentialsFile); err != nil {
			return nil, errors.Wrapf(err, "GOOGLE_APPLICATION_CREDENTIALS %q not readable", c.CredentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(c.CredentialsFile))
	} else if c.AuthEmulatorHost == "" {
		return nil, errors.New("missing Firebase credentials: set FIREBASE_SERVICE_ACCOUNT_JSON or " +
			"GOOGLE_APPLICATION_CREDENTIALS, or use FIREBASE_AUTH_EMULATOR_HOST / LOCAL_MODE=1")
	}
	return opts, nil
}

// NewFirebase initialises the app and every client the sync layer uses.
func NewFirebase(ctx context.Context, c Config) (*Firebase, error) {
	opts, err := c.clientOptions()
	if err != nil {
		return nil, err
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:     c.ProjectID,
		StorageBucket: c.StorageBucket,
	}, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "firebase init")
	}
	fb := &Firebase{App: app}

	if fb.Auth, err = app.Auth(ctx); err != nil {
		return nil, errors.Wrap(err, "firebase auth")
	}
	if fb.Firestore, err = app.Firestore(ctx); err != nil {
		return nil, errors.Wrap(err, "firestore")
	}
	if c.StorageBucket != "" {
		st, err := app.Storage(ctx)
		if err != nil {
			fb.Close()
			return nil, errors.Wrap(err, "firebase storage")
		}
		if fb.Bucket, err = st.DefaultBucket(); err != nil {
			fb.Close()
			return nil, errors.Wrap(err, "storage bucket")
		}
	} else {
		jww.WARN.Println("FIREBASE_STORAGE_BUCKET not set, uploads are disabled")
	}
	if c.APIKey != "" {
		if fb.Toolkit, err = identitytoolkit.NewService(ctx, option.WithAPIKey(c.APIKey)); err != nil {
			fb.Close()
			return nil, errors.Wrap(err, "identity toolkit")
		}
	} else {
		jww.WARN.Println("FIREBASE_API_KEY not set, password sign-in is disabled")
	}
	jww.INFO.Printf("firebase initialised for project %s", c.ProjectID)
	return fb, nil
}

func (f *Firebase) Close() {
	if f.Firestore != nil {
		if err := f.Firestore.Close(); err != nil {
			jww.WARN.Printf("close firestore: %v", err)
		}
	}
}

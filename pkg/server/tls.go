package server

import (
	"crypto/tls"
	"errors"
	"sync"

	"linkdrop/pkg/config"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// certReloader serves the current key pair and reloads it when either file
// changes on disk.
type certReloader struct {
	certPath string
	keyPath  string

	mu   sync.RWMutex
	cert *tls.Certificate

	watcher *fsnotify.Watcher
}

func newCertReloader(certPath, keyPath string) (*certReloader, error) {
	r := &certReloader{certPath: certPath, keyPath: keyPath}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// provideCertReloader is nil when tls is disabled.
func provideCertReloader(lc fx.Lifecycle, cfg *config.Config) (*certReloader, error) {
	if !cfg.TLS.Enable {
		return nil, nil
	}

	r, err := newCertReloader(cfg.TLS.CertPath, cfg.TLS.KeyPath)
	if err != nil {
		return nil, err
	}
	if err := r.watch(); err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(r.close))
	return r, nil
}

func (r *certReloader) load() error {
	cert, err := tls.LoadX509KeyPair(r.certPath, r.keyPath)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()
	return nil
}

func (r *certReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cert == nil {
		return nil, errors.New("no tls certificate loaded")
	}
	return r.cert, nil
}

func (r *certReloader) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: r.GetCertificate,
	}
}

func (r *certReloader) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, p := range []string{r.certPath, r.keyPath} {
		if err := w.Add(p); err != nil {
			_ = w.Close()
			return err
		}
	}
	r.watcher = w

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				// A failed reload keeps serving the previous pair.
				if err := r.load(); err != nil {
					zap.L().Error("failed to reload tls certificate", zap.String("file", event.Name), zap.Error(err))
					continue
				}
				zap.L().Info("tls certificate reloaded", zap.String("file", event.Name))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				zap.L().Error("tls watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (r *certReloader) close() error {
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Close()
}

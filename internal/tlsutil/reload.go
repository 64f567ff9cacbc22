// Package tlsutil builds the client TLS configuration for the shadow broker
// and keeps the client certificate current when it is rotated on disk.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/shadowbridge/internal/logging"
)

// reloadDebounce coalesces the bursts of events produced by tools that
// rewrite the certificate and key as separate operations.
const reloadDebounce = 200 * time.Millisecond

// CertReloader holds a client certificate and reloads it when its files change.
type CertReloader struct {
	certFile string
	keyFile  string
	cert     atomic.Pointer[tls.Certificate]
	logger   *logging.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	// onReload is called after every reload attempt. Used by tests.
	onReload func(error)
}

// NewCertReloader loads the key pair once. Call Watch to follow changes.
func NewCertReloader(certFile, keyFile string, logger *logging.Logger) (*CertReloader, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	r := &CertReloader{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logger.WithComponent("tls"),
		stopCh:   make(chan struct{}),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the key pair. On failure the previous certificate stays in use.
func (r *CertReloader) Reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("load client certificate: %w", err)
	}
	r.cert.Store(&cert)
	return nil
}

// GetClientCertificate implements tls.Config.GetClientCertificate.
func (r *CertReloader) GetClientCertificate(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	return r.cert.Load(), nil
}

// Watch starts following the directories holding the certificate and key.
// Directories are watched rather than files so atomic renames are seen.
func (r *CertReloader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dirs := map[string]bool{
		filepath.Dir(r.certFile): true,
		filepath.Dir(r.keyFile):  true,
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	r.watcher = watcher
	r.wg.Add(1)
	go r.watchLoop()
	return nil
}

// Close stops watching. The last loaded certificate remains available.
func (r *CertReloader) Close() error {
	var err error
	r.once.Do(func() {
		close(r.stopCh)
		if r.watcher != nil {
			err = r.watcher.Close()
		}
		r.wg.Wait()
	})
	return err
}

func (r *CertReloader) watchLoop() {
	defer r.wg.Done()

	debounce := time.NewTimer(0)
	<-debounce.C

	certName := filepath.Clean(r.certFile)
	keyName := filepath.Clean(r.keyFile)

	for {
		select {
		case <-r.stopCh:
			debounce.Stop()
			return

		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)
			if name != certName && name != keyName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(reloadDebounce)

		case <-debounce.C:
			err := r.Reload()
			if err != nil {
				r.logger.Warn("client certificate reload failed", "error", err)
			} else {
				r.logger.Info("client certificate reloaded", "cert_file", r.certFile)
			}
			if r.onReload != nil {
				r.onReload(err)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("certificate watcher error", "error", err)
		}
	}
}

// ClientConfig returns a TLS 1.2+ client configuration trusting the CA bundle
// in caFile (system roots when empty) and presenting the reloader's
// certificate when one is given.
func ClientConfig(caFile string, reloader *CertReloader) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", caFile)
		}
		cfg.RootCAs = pool
	}

	if reloader != nil {
		cfg.GetClientCertificate = reloader.GetClientCertificate
	}
	return cfg, nil
}

package ads

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultKey is the inventory entry used when a district has no ad of its own.
const DefaultKey = "default"

// Ad is one sponsor banner shown on the claim form page.
type Ad struct {
	Text string `yaml:"text" json:"text"`
	Link string `yaml:"link" json:"link"`
}

var punjabDistricts = []string{
	"Attock", "Bahawalnagar", "Bahawalpur", "Bhakkar", "Chakwal", "Chiniot",
	"Dera Ghazi Khan", "Faisalabad", "Gujranwala", "Gujrat", "Hafizabad",
	"Jhang", "Jhelum", "Kasur", "Khanewal", "Khushab", "Lahore", "Layyah",
	"Lodhran", "Mandi Bahauddin", "Mianwali", "Multan", "Muzaffargarh",
	"Nankana Sahib", "Narowal", "Okara", "Pakpattan", "Rahim Yar Khan",
	"Rajanpur", "Rawalpindi", "Sahiwal", "Sargodha", "Sheikhupura",
	"Sialkot", "Toba Tek Singh", "Vehari",
}

// Districts returns the districts of Punjab served by the programme.
func Districts() []string {
	out := make([]string, len(punjabDistricts))
	copy(out, punjabDistricts)
	return out
}

func builtinAds() map[string]Ad {
	return map[string]Ad{
		"Faisalabad": {Text: "Advertise Here - Reach 3000+ Health Managers contact smartbiopk@gmail.com", Link: "#"},
		"Lahore":     {Text: "Advertise Here - Reach 3000+ Health Managers smartbiopk@gmail.com", Link: "#"},
		DefaultKey:   {Text: "Advertise Here - Reach 3000+ Health Managers smartbiopk@gmail.com", Link: "/advertise"},
	}
}

// Registry maps districts to ads with a default fallback. Safe for
// concurrent use; LoadFile swaps the whole inventory atomically.
type Registry struct {
	mu  sync.RWMutex
	ads map[string]Ad
}

// NewRegistry returns a registry seeded with the built-in inventory.
func NewRegistry() *Registry {
	return &Registry{ads: builtinAds()}
}

// Resolve returns the ad for a district, falling back to the default entry.
func (r *Registry) Resolve(district string) Ad {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ad, ok := r.ads[district]; ok {
		return ad
	}
	return r.ads[DefaultKey]
}

// LoadFile replaces the inventory with the districts defined in a YAML file.
// The built-in default entry is kept when the file omits one, so Resolve
// always has a fallback.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read ads file: %w", err)
	}

	var loaded map[string]Ad
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parse ads file: %w", err)
	}

	ads := make(map[string]Ad, len(loaded)+1)
	for district, ad := range loaded {
		ads[district] = ad
	}
	if _, ok := ads[DefaultKey]; !ok {
		ads[DefaultKey] = builtinAds()[DefaultKey]
	}

	r.mu.Lock()
	r.ads = ads
	r.mu.Unlock()
	return nil
}

// Watch reloads the ads file whenever it changes, until ctx is cancelled.
// Config pushes typically replace the file rather than rewrite it in place,
// so the parent directory is watched and events are matched against the
// target path. Rapid bursts are coalesced by the debounce window.
func (r *Registry) Watch(ctx context.Context, path string, debounce time.Duration, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create ads watcher: %w", err)
	}

	target, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("resolve ads path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		reload := func() {
			if err := r.LoadFile(path); err != nil {
				logger.Warn("failed to reload ads file", zap.String("path", path), zap.Error(err))
				return
			}
			logger.Info("ads inventory reloaded", zap.String("path", path))
		}

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event := <-watcher.Events:
				name, err := filepath.Abs(event.Name)
				if err != nil || name != target {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if debounce <= 0 {
					reload()
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, reload)
			case err := <-watcher.Errors:
				logger.Warn("ads watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}

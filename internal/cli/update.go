package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/minio/selfupdate"
	"github.com/spf13/cobra"

	"github.com/weftai/weft/internal/style"
	"github.com/weftai/weft/internal/utils"
)

const (
	updateCacheName = "update_cache.json"
	cacheExpiry     = 2 * time.Hour
	githubAPIURL    = "https://api.github.com/repos/weftai/weft/releases/latest"
)

// releaseClient bounds the release metadata call. The binary download itself
// streams through a plain Get, since a whole-request timeout would cut off
// large downloads on slow links.
var releaseClient = &http.Client{Timeout: 15 * time.Second}

type UpdateInfo struct {
	LastChecked   time.Time `json:"last_checked"`
	LatestVersion string    `json:"latest_version"`
	CurrentIsOld  bool      `json:"current_is_old"`
	DownloadURL   string    `json:"download_url"`
}

type GitHubRelease struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update weft to the latest version",
	Long: `Check GitHub for a newer weft release and replace the running binary with
it. The swap goes through a temporary file and rolls back if it fails
partway, so an interrupted update does not leave a broken binary behind.`,
	Example: `
  weft update              # Upgrade to the latest release
  weft update --check      # Report whether a newer release exists
  weft update --force      # Reinstall even when already up to date`,
	Run: func(cmd *cobra.Command, args []string) {
		checkOnly, _ := cmd.Flags().GetBool("check")
		force, _ := cmd.Flags().GetBool("force")

		info, err := refreshUpdateCache()
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s Failed to check for updates: %s\n", style.ErrorIcon(), err)
			return
		}

		if checkOnly {
			printUpdateStatus(cmd, info)
			return
		}
		performUpdate(cmd, info, force)
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)

	updateCmd.Flags().Bool("check", false, "only check for updates without updating")
	updateCmd.Flags().Bool("force", false, "force update even if already on latest version")
}

// refreshUpdateCache resolves the newest release, consulting the on-disk
// cache before the GitHub API, and caches what it learns for later checks.
func refreshUpdateCache() (*UpdateInfo, error) {
	if cached := loadUpdateCache(); cached != nil && time.Since(cached.LastChecked) < cacheExpiry {
		return cached, nil
	}

	latest, downloadURL, err := fetchLatestVersion()
	if err != nil {
		return nil, err
	}

	info := &UpdateInfo{
		LastChecked:   time.Now(),
		LatestVersion: latest,
		CurrentIsOld:  versionIsOlder(Version, latest),
		DownloadURL:   downloadURL,
	}
	saveUpdateCache(info)
	return info, nil
}

func printUpdateStatus(cmd *cobra.Command, info *UpdateInfo) {
	if info.CurrentIsOld {
		fmt.Fprintf(cmd.OutOrStdout(), "%s weft %s is available (current: %s)\n", style.InfoIcon(), info.LatestVersion, Version)
		fmt.Fprintln(cmd.OutOrStdout(), "Run 'weft update' to upgrade.")
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s weft %s is the latest version\n", style.SuccessIcon(), Version)
	}
}

// performUpdate swaps the running binary for the resolved release.
func performUpdate(cmd *cobra.Command, info *UpdateInfo, force bool) {
	if !info.CurrentIsOld && !force {
		fmt.Fprintf(cmd.OutOrStdout(), "%s Already on the latest version (%s)\n", style.SuccessIcon(), Version)
		return
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s Downloading weft %s...\n", style.InfoIcon(), info.LatestVersion)

	if err := applyUpdate(info.DownloadURL); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s Update failed: %s\n", style.ErrorIcon(), err)
		return
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s Updated to weft %s\n", style.SuccessIcon(), info.LatestVersion)
}

// applyUpdate streams the release binary over the running executable.
// selfupdate stages the new binary in a temp file and restores the old one
// when the swap fails partway.
func applyUpdate(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("downloading binary: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	if err := selfupdate.Apply(resp.Body, selfupdate.Options{}); err != nil {
		if rollbackErr := selfupdate.RollbackError(err); rollbackErr != nil {
			return fmt.Errorf("update failed and rollback failed, binary may be broken: %w", rollbackErr)
		}
		return err
	}
	return nil
}

// fetchLatestVersion asks the GitHub API for the newest release tag and the
// download URL of this platform's asset.
func fetchLatestVersion() (version, downloadURL string, err error) {
	resp, err := releaseClient.Get(githubAPIURL)
	if err != nil {
		return "", "", fmt.Errorf("fetching release info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var release GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", "", fmt.Errorf("decoding release info: %w", err)
	}

	// Release assets are named weft_<os>_<arch> plus an archive suffix.
	assetPrefix := fmt.Sprintf("weft_%s_%s", runtime.GOOS, runtime.GOARCH)
	for _, asset := range release.Assets {
		if strings.HasPrefix(asset.Name, assetPrefix) {
			return release.TagName, asset.BrowserDownloadURL, nil
		}
	}

	return "", "", fmt.Errorf("no binary found for platform %s/%s", runtime.GOOS, runtime.GOARCH)
}

// versionIsOlder reports whether current is behind latest. Proper semver tags
// compare semantically; anything else falls back to string inequality, and a
// dev build never counts as outdated.
func versionIsOlder(current, latest string) bool {
	if current == "dev" {
		return false
	}

	cur, errCur := semver.NewVersion(normalizeVersion(current))
	lat, errLat := semver.NewVersion(normalizeVersion(latest))
	if errCur == nil && errLat == nil {
		return cur.LessThan(lat)
	}
	return normalizeVersion(current) != normalizeVersion(latest)
}

func normalizeVersion(version string) string {
	return strings.TrimPrefix(version, "v")
}

// updateCachePath locates the cache file inside the weft home directory.
func updateCachePath() (string, error) {
	dir, err := utils.WeftDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, updateCacheName), nil
}

// loadUpdateCache reads the cached check result, or nil if absent or unreadable.
func loadUpdateCache() *UpdateInfo {
	path, err := updateCachePath()
	if err != nil {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var info UpdateInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil
	}
	return &info
}

// saveUpdateCache persists a check result. Failures are ignored; the next
// invocation simply checks again.
func saveUpdateCache(info *UpdateInfo) {
	path, err := updateCachePath()
	if err != nil {
		return
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o644)
}

// ShouldShowUpdateNotification reports whether a fresh cached check already
// knows about a newer release. It reads only the cache; commands finishing up
// never wait on the network.
func ShouldShowUpdateNotification() *UpdateInfo {
	info := loadUpdateCache()
	if info == nil || time.Since(info.LastChecked) > cacheExpiry {
		return nil
	}

	if info.CurrentIsOld {
		return info
	}
	return nil
}

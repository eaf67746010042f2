// Command scarchivebot: watch SoundCloud accounts and archive new tracks to a
// Discord webhook (watch), or run one-shot utilities.
//
//	watch      Poll the watched accounts and announce unseen tracks. Default.
//	resolve    Resolve a SoundCloud URL and print its record
//	post       Archive and post one track by id or URL, bypassing the store
//	init       Mark every current track of the watched accounts as known
//	lookup     Find the track id behind a webhook message id
//	genconfig  Resolve a user URL, write starter config + its followings
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/scarchive/scarchivebot/internal/config"
	"github.com/scarchive/scarchivebot/internal/gate"
	"github.com/scarchive/scarchivebot/internal/media"
	"github.com/scarchive/scarchivebot/internal/metrics"
	"github.com/scarchive/scarchivebot/internal/soundcloud"
	"github.com/scarchive/scarchivebot/internal/trackstore"
	"github.com/scarchive/scarchivebot/internal/watcher"
	"github.com/scarchive/scarchivebot/internal/watchlist"
	"github.com/scarchive/scarchivebot/internal/webhook"
)

func main() {
	log.SetFlags(log.LstdFlags)
	log.SetPrefix("[scarchivebot] ")

	watchCmd := flag.NewFlagSet("watch", flag.ExitOnError)
	watchConfig := watchCmd.String("config", "config.json", "Config JSON path")

	resolveCmd := flag.NewFlagSet("resolve", flag.ExitOnError)

	postCmd := flag.NewFlagSet("post", flag.ExitOnError)
	postConfig := postCmd.String("config", "config.json", "Config JSON path")

	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	initConfig := initCmd.String("config", "config.json", "Config JSON path")

	lookupCmd := flag.NewFlagSet("lookup", flag.ExitOnError)
	lookupConfig := lookupCmd.String("config", "config.json", "Config JSON path")

	genCmd := flag.NewFlagSet("genconfig", flag.ExitOnError)
	genConfig := genCmd.String("config", "config.json", "Config JSON path to create")
	genUsers := genCmd.String("users", "users.json", "Watchlist path to create")

	// Bare invocation or flags only: watcher mode, like a daemon should.
	cmd, rest := "watch", os.Args[1:]
	if len(os.Args) > 1 && !strings.HasPrefix(os.Args[1], "-") {
		cmd, rest = os.Args[1], os.Args[2:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "watch":
		_ = watchCmd.Parse(rest)
		runWatch(ctx, *watchConfig)

	case "resolve":
		_ = resolveCmd.Parse(rest)
		if resolveCmd.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: scarchivebot resolve <url>")
			os.Exit(1)
		}
		runResolve(ctx, resolveCmd.Arg(0))

	case "post":
		_ = postCmd.Parse(rest)
		if postCmd.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: scarchivebot post [-config path] <track-id-or-url>")
			os.Exit(1)
		}
		runPost(ctx, *postConfig, postCmd.Arg(0))

	case "init":
		_ = initCmd.Parse(rest)
		runInit(ctx, *initConfig)

	case "lookup":
		_ = lookupCmd.Parse(rest)
		if lookupCmd.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: scarchivebot lookup [-config path] <message-id>")
			os.Exit(1)
		}
		runLookup(*lookupConfig, lookupCmd.Arg(0))

	case "genconfig":
		_ = genCmd.Parse(rest)
		if genCmd.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: scarchivebot genconfig [-config path] [-users path] <user-url>")
			os.Exit(1)
		}
		runGenConfig(ctx, *genConfig, *genUsers, genCmd.Arg(0))

	case "help", "-h", "--help":
		fmt.Fprintf(os.Stderr, "Usage: %s [watch|resolve|post|init|lookup|genconfig] [flags]\n", os.Args[0])

	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", cmd)
		os.Exit(1)
	}
}

func newClient(ctx context.Context, g *gate.Gates) *soundcloud.Client {
	c := soundcloud.New()
	if g != nil {
		c.Acquire = g.Upstream
	}
	if err := c.RefreshCredential(ctx); err != nil {
		log.Printf("Client credential scrape failed: %v", err)
		os.Exit(1)
	}
	return c
}

func loadState(cfg *config.Config) (*trackstore.Store, *watchlist.List) {
	store, err := trackstore.LoadOrCreate(cfg.TracksFile)
	if err != nil {
		log.Printf("Load track store: %v", err)
		os.Exit(1)
	}
	users, err := watchlist.Load(cfg.UsersFile)
	if err != nil {
		log.Printf("Load watchlist: %v", err)
		os.Exit(1)
	}
	return store, users
}

func runWatch(ctx context.Context, configPath string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
	store, users := loadState(cfg)
	gates := gate.New(cfg.MaxParallelFetches, cfg.MaxParallelProcessing, cfg.MaxParallelWebhooks)
	client := newClient(ctx, gates)

	tc := &media.Transcoder{ShowOutput: cfg.ShowFfmpegOutput}
	if err := tc.Probe(ctx); err != nil {
		log.Printf("WARNING: %v; audio acquisition will fail until it is installed", err)
	}
	if cfg.MetricsAddr != "" {
		go metrics.Serve(ctx, cfg.MetricsAddr)
	}

	w := &watcher.Watcher{
		Cfg:    cfg,
		Client: client,
		Pipe:   &media.Pipeline{Resolver: client, Transcoder: tc, StagingDir: cfg.StagingDir()},
		Poster: &webhook.Poster{URL: cfg.DiscordWebhookURL},
		Store:  store,
		Users:  users,
		Gates:  gates,
	}
	if err := w.Run(ctx); err != nil {
		os.Exit(1)
	}
}

func runResolve(ctx context.Context, url string) {
	client := newClient(ctx, nil)
	raw, err := client.ResolveURL(ctx, url)
	if err != nil {
		log.Printf("Resolve %s: %v", url, err)
		os.Exit(1)
	}
	kind, id := soundcloud.RecordIdentity(raw)
	var pretty strings.Builder
	enc := json.NewEncoder(&pretty)
	enc.SetIndent("", "  ")
	_ = enc.Encode(json.RawMessage(raw))
	fmt.Printf("kind: %s\nid:   %s\n%s", kind, id, pretty.String())
}

// resolveTrackID accepts either a bare track id or a page URL.
func resolveTrackID(ctx context.Context, client *soundcloud.Client, idOrURL string) (string, error) {
	if !strings.Contains(idOrURL, "://") {
		return idOrURL, nil
	}
	raw, err := client.ResolveURL(ctx, idOrURL)
	if err != nil {
		return "", err
	}
	kind, id := soundcloud.RecordIdentity(raw)
	if kind != "track" || id == "" {
		return "", fmt.Errorf("%s resolves to %q, not a track", idOrURL, kind)
	}
	return id, nil
}

func runPost(ctx context.Context, configPath, idOrURL string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
	client := newClient(ctx, nil)
	id, err := resolveTrackID(ctx, client, idOrURL)
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
	t, err := client.GetTrack(ctx, id)
	if err != nil {
		log.Printf("Fetch track %s: %v", id, err)
		os.Exit(1)
	}
	tc := &media.Transcoder{ShowOutput: cfg.ShowFfmpegOutput}
	pipe := &media.Pipeline{Resolver: client, Transcoder: tc, StagingDir: cfg.StagingDir()}
	res, err := pipe.Process(ctx, t)
	if err != nil {
		log.Printf("Process track %s: %v", id, err)
		os.Exit(1)
	}
	defer res.Cleanup()
	var files []webhook.Attachment
	for _, p := range res.Files() {
		files = append(files, webhook.Attachment{Path: p})
	}
	poster := &webhook.Poster{URL: cfg.DiscordWebhookURL}
	resp, err := poster.Post(ctx, webhook.TrackEmbed(t), files)
	if err != nil {
		log.Printf("Post track %s: %v", id, err)
		os.Exit(1)
	}
	log.Printf("Posted track %s (%s) as message %s", t.ID, t.Title, resp.MessageID)
}

// runInit backfills the store with everything currently published so the
// first watch run only announces future tracks.
func runInit(ctx context.Context, configPath string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
	store, users := loadState(cfg)
	client := newClient(ctx, nil)

	total := 0
	for _, id := range users.Users() {
		tracks, err := client.GetUploads(ctx, id, cfg.MaxTracksPerUser)
		if err != nil {
			log.Printf("Account %s: %v", id, err)
			continue
		}
		ids := make([]string, 0, len(tracks))
		for _, t := range tracks {
			ids = append(ids, t.ID)
		}
		if cfg.ScrapeUserLikes {
			likes, err := client.GetLikes(ctx, id, cfg.MaxLikesPerUser)
			if err != nil {
				log.Printf("Account %s likes: %v", id, err)
			}
			for _, l := range likes {
				ids = append(ids, l.Track.ID)
			}
		}
		added := store.AddMany(ids)
		log.Printf("Account %s: %d track(s) recorded", id, len(added))
		total += len(added)
	}
	if err := store.Save(); err != nil {
		log.Printf("Save store: %v", err)
		os.Exit(1)
	}
	log.Printf("Initialized %s with %d track(s) across %d account(s)", cfg.TracksFile, total, users.Len())
}

func runLookup(configPath, messageID string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
	store, _ := loadState(cfg)
	id := store.FindByAnnounce(messageID)
	if id == "" {
		fmt.Printf("No track found for message %s\n", messageID)
		os.Exit(1)
	}
	fmt.Printf("Message %s announced track %s (https://api-v2.soundcloud.com/tracks/%s)\n", messageID, id, id)
}

// runGenConfig bootstraps a deployment: a starter config plus a watchlist
// seeded with the given profile's followings.
func runGenConfig(ctx context.Context, configPath, usersPath, url string) {
	client := newClient(ctx, nil)
	raw, err := client.ResolveURL(ctx, url)
	if err != nil {
		log.Printf("Resolve %s: %v", url, err)
		os.Exit(1)
	}
	kind, id := soundcloud.RecordIdentity(raw)
	if kind != "user" || id == "" {
		log.Printf("%s resolves to %q, want a user profile", url, kind)
		os.Exit(1)
	}
	followings, err := client.GetFollowings(ctx, id, 0)
	if err != nil {
		log.Printf("Followings for %s: %v", id, err)
		os.Exit(1)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Load writes the starter file and reports what to fill in.
		if _, lerr := config.Load(configPath); lerr != nil {
			log.Printf("%v", lerr)
		}
	} else {
		log.Printf("%s already exists, leaving it alone", configPath)
	}

	users, err := watchlist.Load(usersPath)
	if err != nil {
		log.Printf("Load watchlist: %v", err)
		os.Exit(1)
	}
	ids := make([]string, 0, len(followings))
	for _, u := range followings {
		ids = append(ids, u.ID)
	}
	added := users.Append(ids)
	if err := users.Save(); err != nil {
		log.Printf("Save watchlist: %v", err)
		os.Exit(1)
	}
	log.Printf("Wrote %s with %d account(s) (%d new) from %s's followings", usersPath, users.Len(), added, id)
}

// Package seed loads idempotent demo fixtures: service accounts, commands,
// entities, string rules, and coordination rows for a local stack.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waddlebot/router/internal/auth"
	"github.com/waddlebot/router/internal/config"
	"github.com/waddlebot/router/pkg/command"
	"github.com/waddlebot/router/pkg/community"
	"github.com/waddlebot/router/pkg/coordination"
	"github.com/waddlebot/router/pkg/entity"
	"github.com/waddlebot/router/pkg/stringmatch"
)

// Run loads all fixtures. Safe to run repeatedly: existing rows are left
// alone, and raw API keys are only printed for accounts created this run.
func Run(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) error {
	if err := seedAccounts(ctx, auth.NewStore(pool), logger); err != nil {
		return err
	}

	entityStore := entity.NewStore(pool)
	entityIDs, err := seedEntities(ctx, entityStore, logger)
	if err != nil {
		return err
	}

	commandStore := command.NewStore(pool, pool)
	if err := seedCommands(ctx, commandStore, entityIDs, logger); err != nil {
		return err
	}

	if err := seedStringRules(ctx, stringmatch.NewStore(pool, pool), logger); err != nil {
		return err
	}

	if err := seedServers(ctx, pool, logger); err != nil {
		return err
	}

	coordStore := coordination.NewStore(pool, pool, cfg.CheckinTimeout, cfg.ClaimDuration)
	created, err := coordStore.Populate(ctx, "twitch")
	if err != nil {
		return err
	}
	logger.Info("seeded coordination rows", "platform", "twitch", "created", created)

	if err := seedDemoOwner(ctx, community.NewStore(pool), logger); err != nil {
		return err
	}

	logger.Info("seed complete")
	return nil
}

func seedAccounts(ctx context.Context, store *auth.Store, logger *slog.Logger) error {
	accounts := []auth.CreateRequest{
		{Name: "demo-collector", AccountType: auth.TypeCollector, Platform: "twitch",
			Permissions: []string{"router/events", "router/events/batch", "router/coordination/*", "router/entities"}},
		{Name: "demo-interaction", AccountType: auth.TypeInteraction,
			Permissions: []string{"router/responses", "router/responses/*"}},
		{Name: "demo-webhook", AccountType: auth.TypeWebhook,
			Permissions: []string{"router/events", "router/responses"}},
		{Name: "demo-admin", AccountType: auth.TypeAdmin,
			Permissions: []string{"*"}},
	}

	for _, a := range accounts {
		if _, err := store.GetByName(ctx, a.Name); err == nil {
			logger.Info("service account exists", "name", a.Name)
			continue
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("checking account %s: %w", a.Name, err)
		}

		rawKey, keyHash, keyPrefix := auth.GenerateAPIKey()
		if _, err := store.Create(ctx, auth.CreateParams{
			Name:        a.Name,
			AccountType: a.AccountType,
			Platform:    a.Platform,
			KeyHash:     keyHash,
			KeyPrefix:   keyPrefix,
			Permissions: a.Permissions,
		}); err != nil {
			return fmt.Errorf("creating account %s: %w", a.Name, err)
		}
		// The raw key is recoverable only here; the database holds the hash.
		logger.Info("created service account", "name", a.Name, "api_key", rawKey)
	}
	return nil
}

func seedEntities(ctx context.Context, store *entity.Store, logger *slog.Logger) ([]string, error) {
	fixtures := []struct {
		platform, serverID, channelID string
	}{
		{"twitch", "shadowdemon", ""},
		{"twitch", "nightbloom", ""},
		{"discord", "123456789012345678", "987654321098765432"},
		{"discord", "123456789012345678", ""},
	}

	ids := make([]string, 0, len(fixtures))
	for _, f := range fixtures {
		ent, err := store.Ensure(ctx, f.platform, f.serverID, f.channelID)
		if err != nil {
			return nil, fmt.Errorf("seeding entity %s/%s: %w", f.platform, f.serverID, err)
		}
		ids = append(ids, ent.EntityID)
	}
	logger.Info("seeded entities", "count", len(ids))
	return ids, nil
}

func seedCommands(ctx context.Context, store *command.Store, entityIDs []string, logger *slog.Logger) error {
	fixtures := []command.CreateRequest{
		{
			Prefix:      command.PrefixLocal,
			Name:        "help",
			Description: "List available commands",
			LocationURL: "http://help-module:8080/run",
			Type:        command.TypeContainer,
			RateLimit:   10,
		},
		{
			Prefix:      command.PrefixCommunity,
			Name:        "shoutout",
			Description: "Shout out another streamer",
			LocationURL: "https://modules.example.com/shoutout",
			Type:        command.TypeWebhook,
			RateLimit:   2,
		},
	}

	for _, f := range fixtures {
		cmd, err := store.GetByPrefixName(ctx, f.Prefix, f.Name)
		if errors.Is(err, pgx.ErrNoRows) {
			cmd, err = store.Create(ctx, f)
			if err != nil {
				return fmt.Errorf("seeding command %s%s: %w", f.Prefix, f.Name, err)
			}
			logger.Info("created command", "command", f.Prefix+f.Name)
		} else if err != nil {
			return fmt.Errorf("checking command %s%s: %w", f.Prefix, f.Name, err)
		}

		for _, entityID := range entityIDs {
			if err := store.SetPermission(ctx, cmd.ID, entityID, true, nil); err != nil {
				return fmt.Errorf("enabling %s%s for %s: %w", f.Prefix, f.Name, entityID, err)
			}
		}
	}
	return nil
}

func seedStringRules(ctx context.Context, store *stringmatch.Store, logger *slog.Logger) error {
	fixtures := []stringmatch.RuleRequest{
		{
			Name:           "spam-link-warning",
			Pattern:        "free followers",
			MatchType:      stringmatch.MatchContains,
			Action:         stringmatch.ActionWarn,
			WarningMessage: "Please don't advertise follower services here.",
			Priority:       10,
			Enabled:        true,
		},
		{
			Name:         "invite-link-block",
			Pattern:      `(discord\.gg|bit\.ly)/\S+`,
			MatchType:    stringmatch.MatchRegex,
			Action:       stringmatch.ActionBlock,
			BlockMessage: "Invite links are not allowed.",
			Priority:     5,
			Enabled:      true,
		},
	}

	existing, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing string rules: %w", err)
	}
	byName := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		byName[r.Name] = struct{}{}
	}

	for _, f := range fixtures {
		if _, ok := byName[f.Name]; ok {
			continue
		}
		if _, err := store.Create(ctx, f); err != nil {
			return fmt.Errorf("seeding string rule %s: %w", f.Name, err)
		}
		logger.Info("created string rule", "name", f.Name)
	}
	return nil
}

func seedServers(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	servers := []struct {
		platform, serverID, channelID, name string
		priority                            int
	}{
		{"twitch", "shadowdemon", "", "ShadowDemon", 10},
		{"twitch", "nightbloom", "", "NightBloom", 20},
		{"discord", "123456789012345678", "987654321098765432", "Demo Guild", 100},
	}

	for _, s := range servers {
		_, err := pool.Exec(ctx, `INSERT INTO servers (platform, server_id, channel_id, name, priority)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (platform, server_id, channel_id) DO NOTHING`,
			s.platform, s.serverID, s.channelID, s.name, s.priority)
		if err != nil {
			return fmt.Errorf("seeding server %s/%s: %w", s.platform, s.serverID, err)
		}
	}
	logger.Info("seeded servers", "count", len(servers))
	return nil
}

// seedDemoOwner promotes a demo user so role precedence is visible out of the
// box.
func seedDemoOwner(ctx context.Context, store *community.Store, logger *slog.Logger) error {
	const userID = "demo-owner"
	if err := store.EnsureUserInGlobal(ctx, userID); err != nil {
		return fmt.Errorf("onboarding demo owner: %w", err)
	}
	if err := store.SetCommunityRole(ctx, community.GlobalCommunityID, userID, community.RoleModerator, "seed"); err != nil {
		return fmt.Errorf("assigning demo owner role: %w", err)
	}
	logger.Info("seeded demo moderator", "user_id", userID)
	return nil
}

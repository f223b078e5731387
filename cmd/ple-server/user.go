package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jtclabs/passwordless-entry/internal/config"
	"github.com/jtclabs/passwordless-entry/mongostore"
	"github.com/urfave/cli/v2"
)

func userCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "User management commands (mongo backend only)",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Add a user",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "email",
						Usage:    "Email address of the user",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "Display name of the user",
					},
				},
				Action: userAdd,
			},
		},
	}
}

func userAdd(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if cfg.Store.Backend != config.BackendMongo {
		return fmt.Errorf("users can only be added with the %s backend, configure others in the users section", config.BackendMongo)
	}

	ctx, cancel := context.WithTimeout(c.Context, connectTimeout)
	defer cancel()

	client, mcfg, err := connectMongo(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())

	users := mongostore.NewUsers(client, mcfg)
	if err := users.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure user indexes: %w", err)
	}

	user, err := users.Create(ctx, c.String("email"), c.String("name"))
	if errors.Is(err, mongostore.ErrEmailTaken) {
		return fmt.Errorf("a user with email %s already exists", c.String("email"))
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "User created: %s\n", user.ID)
	return nil
}

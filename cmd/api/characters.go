package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-tavern/roleplay/internal/config"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/character"
)

func newCharactersCommand(cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "characters",
		Short: "Manage stored characters",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored characters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openCharacters(cmd, cfg())
			if err != nil {
				return err
			}
			defer closeStore()

			for _, c := range store.List() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d examples\n", c.String(), len(c.ExampleMessages))
			}
			return nil
		},
	})

	var greeting, description, emoji, avatar string
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create or replace a character",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openCharacters(cmd, cfg())
			if err != nil {
				return err
			}
			defer closeStore()

			c := character.New(args[0], flagValue(cmd, "greeting", greeting), flagValue(cmd, "description", description),
				flagValue(cmd, "emoji", emoji), flagValue(cmd, "avatar", avatar))
			if err := store.Put(cmd.Context(), c); err != nil {
				return errors.Wrap(err, "save characters")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", c.String())
			return nil
		},
	}
	create.Flags().StringVar(&greeting, "greeting", "", "greeting message")
	create.Flags().StringVar(&description, "description", "", "character description")
	create.Flags().StringVar(&emoji, "emoji", "", "title emoji")
	create.Flags().StringVar(&avatar, "avatar", "", "avatar URL")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a character",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openCharacters(cmd, cfg())
			if err != nil {
				return err
			}
			defer closeStore()

			removed, err := store.Remove(cmd.Context(), args[0])
			if err != nil {
				return errors.Wrap(err, "save characters")
			}
			if !removed {
				return errors.Wrapf(character.ErrNotFound, "%q", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	})

	return cmd
}

func openCharacters(cmd *cobra.Command, cfg *config.Config) (*character.MemoryStore, func(), error) {
	backend, err := openStorage(cmd.Context(), cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	loaded, err := backend.LoadCharacters(cmd.Context())
	if err != nil {
		backend.Close()
		return nil, nil, errors.Wrap(err, "load characters")
	}
	return character.NewMemoryStore(loaded, backend), func() { backend.Close() }, nil
}

func flagValue(cmd *cobra.Command, name, value string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &value
}

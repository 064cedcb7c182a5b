package main

import (
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/murmur/murmur-core/internal/friendstore"
)

func newIDCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "id",
		Short: "print this device's stable device id",
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := friendstore.Open(filepath.Join(flags.dataDir, "friends.db"))
			if err != nil {
				return err
			}
			defer fs.Close()
			fmt.Println(fs.DeviceID())
			return nil
		},
	}
}

func newFriendCmd(flags *rootFlags) *cobra.Command {
	friend := &cobra.Command{
		Use:   "friend",
		Short: "manage the local friend list",
	}
	friend.AddCommand(newFriendAddCmd(flags))
	friend.AddCommand(newFriendListCmd(flags))
	friend.AddCommand(newFriendRemoveCmd(flags))
	return friend
}

func newFriendAddCmd(flags *rootFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add <hex-public-id>",
		Short: "add a friend by their device public key (hex)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("friend id must be hex: %w", err)
			}
			fs, err := friendstore.Open(filepath.Join(flags.dataDir, "friends.db"))
			if err != nil {
				return err
			}
			defer fs.Close()
			return fs.AddFriend(friendstore.Friend{PublicID: id, DisplayName: name})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "optional display name")
	return cmd
}

func newFriendRemoveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <hex-public-id>",
		Short: "remove a friend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("friend id must be hex: %w", err)
			}
			fs, err := friendstore.Open(filepath.Join(flags.dataDir, "friends.db"))
			if err != nil {
				return err
			}
			defer fs.Close()
			return fs.RemoveFriend(id)
		},
	}
}

func newFriendListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list friends",
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := friendstore.Open(filepath.Join(flags.dataDir, "friends.db"))
			if err != nil {
				return err
			}
			defer fs.Close()
			for _, f := range fs.Friends() {
				fmt.Printf("%s\t%s\thashed=%t\n", hex.EncodeToString(f.PublicID), f.DisplayName, f.Hashed)
			}
			return nil
		},
	}
}

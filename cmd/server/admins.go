package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func newAdminsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "admins",
		Short: "Print every user who has performed an audited admin action",
		Args:  cobra.NoArgs,
		RunE:  runAdmins,
	}
}

func runAdmins(cmd *cobra.Command, _ []string) error {
	d, err := buildDependencies(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	users, err := d.feed.ListAdminUsers(cmd.Context())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(users)
}

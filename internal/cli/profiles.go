package cli

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List the profiles of the manifest",
	Args:  cobra.NoArgs,
	RunE:  runProfiles,
}

func runProfiles(cmd *cobra.Command, args []string) error {
	root, err := workingDir()
	if err != nil {
		return err
	}
	mf, source, err := loadManifest(cmd.Context(), root, settings)
	if err != nil {
		return err
	}

	defaultName, _, _ := mf.Profile("")
	rows := make([][]string, 0, len(mf.Profiles))
	for _, name := range mf.ProfileNames() {
		m := mf.Profiles[name]
		if m == nil {
			continue
		}
		marker := ""
		if name == defaultName {
			marker = "*"
		}
		rows = append(rows, []string{
			marker + name,
			m.Name,
			m.ManagerName(),
			m.Python,
			strconv.Itoa(len(m.Packages)),
			strconv.Itoa(len(m.Layer)),
			strconv.FormatBool(m.LinkProject()),
		})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Manifest: %s\n", source)
	t := table.New().
		Headers("PROFILE", "ENVIRONMENT", "MANAGER", "PYTHON", "PACKAGES", "LAYER", "EDITABLE").
		Rows(rows...).
		Border(lipgloss.NormalBorder()).
		BorderColumn(false).
		BorderRow(false).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false)
	t = t.StyleFunc(func(row, col int) lipgloss.Style {
		style := lipgloss.NewStyle().PaddingRight(2)
		if row == table.HeaderRow && !noColor {
			return style.Bold(true)
		}
		return style
	})
	fmt.Fprintln(out, t.Render())
	return nil
}

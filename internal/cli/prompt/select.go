// Package prompt provides interactive terminal prompts for CLI commands,
// adapted from marmos91-dittofs's internal/cli/prompt package.
package prompt

import (
	"github.com/manifoldco/promptui"
)

// SelectString prompts the user to select from a list of strings.
// Returns the selected string.
func SelectString(label string, items []string) (string, error) {
	prompt := promptui.Select{
		Label: label,
		Items: items,
		Size:  10,
	}

	_, result, err := prompt.Run()
	return result, err
}

package database

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fgeck/gobucket-homelab/internal/models"
	"github.com/fgeck/gobucket-homelab/internal/services/staging"
)

// CredentialFile is a MySQL option file handed to the dump tool. A file the
// adapter synthesized is owned and removed by Destroy; a file configured by the
// operator is left alone.
type CredentialFile struct {
	path   string
	staged *staging.StagedFile
}

// Path returns the option file path.
func (c *CredentialFile) Path() string {
	return c.path
}

// Owned reports whether Destroy removes the file.
func (c *CredentialFile) Owned() bool {
	return c.staged != nil
}

// Destroy removes a synthesized option file. It is safe to call more than once.
func (c *CredentialFile) Destroy() error {
	if c == nil || c.staged == nil {
		return nil
	}
	return c.staged.Remove()
}

// externalCredentials wraps an operator-provided option file.
func externalCredentials(path string) *CredentialFile {
	return &CredentialFile{path: path}
}

// newCredentialFile writes target's connection settings to an owner-only staged file.
func newCredentialFile(stagingSvc staging.Service, target models.DatabaseTarget) (*CredentialFile, error) {
	if err := checkOptionValues(target); err != nil {
		return nil, err
	}

	f, err := stagingSvc.CreateFile("mysql-", ".cnf")
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(f.Path, []byte(renderOptionFile(target)), staging.FileMode); err != nil {
		_ = f.Remove()
		return nil, fmt.Errorf("failed to write credential file: %w", err)
	}

	return &CredentialFile{path: f.Path, staged: f}, nil
}

// renderOptionFile renders the [client] group. The password line is omitted
// when the password is empty.
func renderOptionFile(target models.DatabaseTarget) string {
	var b strings.Builder
	b.WriteString("[client]\n")
	b.WriteString("host=" + target.Host + "\n")
	b.WriteString("port=" + strconv.Itoa(target.Port) + "\n")
	if target.Username != "" {
		b.WriteString("user=" + target.Username + "\n")
	}
	if target.Password != "" {
		b.WriteString("password=" + quoteOptionValue(target.Password) + "\n")
	}
	b.WriteString("default-character-set=utf8mb4\n")
	return b.String()
}

// checkOptionValues rejects unquoted values that would start a new option line.
func checkOptionValues(target models.DatabaseTarget) error {
	if strings.ContainsAny(target.Host, "\r\n") {
		return &models.ValidationError{Target: target.Name, Field: "host", Reason: "must not contain line breaks"}
	}
	if strings.ContainsAny(target.Username, "\r\n") {
		return &models.ValidationError{Target: target.Name, Field: "username", Reason: "must not contain line breaks"}
	}
	return nil
}

// quoteOptionValue double-quotes a value using the option file escape rules.
func quoteOptionValue(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
	return `"` + r.Replace(v) + `"`
}

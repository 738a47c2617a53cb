package models

import "fmt"

// Engine identifies a MySQL-compatible database server flavour.
type Engine string

// Supported database engines.
const (
	EngineMySQL   Engine = "mysql"
	EngineMariaDB Engine = "mariadb"
)

// TargetKind names the variant of a Target, used in logs and error wrapping.
type TargetKind string

// Target kinds.
const (
	KindDirectory TargetKind = "directory"
	KindDatabase  TargetKind = "database"
)

// Target is a single thing to back up. The set of implementations is closed:
// DirectoryTarget and DatabaseTarget.
type Target interface {
	TargetName() string
	Kind() TargetKind
	isTarget()
}

// DirectoryTarget archives a directory tree.
type DirectoryTarget struct {
	Name       string   `validate:"required,excludesall=/\\"`
	SourcePath string   `validate:"required"`
	Exclude    []string // glob patterns
}

// TargetName implements Target.
func (t DirectoryTarget) TargetName() string { return t.Name }

// Kind implements Target.
func (t DirectoryTarget) Kind() TargetKind { return KindDirectory }

func (DirectoryTarget) isTarget() {}

// DatabaseTarget dumps a MySQL or MariaDB database.
type DatabaseTarget struct {
	Name            string `validate:"required,excludesall=/\\"`
	Engine          Engine `validate:"required,oneof=mysql mariadb"`
	Host            string `validate:"required"`
	Port            int    `validate:"gte=1,lte=65535"`
	Username        string
	Password        string
	Database        string `validate:"required"`
	CredentialsFile string // optional pre-existing option file
	DumpCommand     string // optional dump tool override
}

// TargetName implements Target.
func (t DatabaseTarget) TargetName() string { return t.Name }

// Kind implements Target.
func (t DatabaseTarget) Kind() TargetKind { return KindDatabase }

func (DatabaseTarget) isTarget() {}

// String hides the password from %v formatting.
func (t DatabaseTarget) String() string {
	return fmt.Sprintf("%s (%s %s@%s:%d/%s)", t.Name, t.Engine, t.Username, t.Host, t.Port, t.Database)
}

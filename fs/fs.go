package appfs

import "embed"

// FS holds the files shipped inside the binaries.
//
//go:embed migrations/*.sql templates/* assets/*
var FS embed.FS

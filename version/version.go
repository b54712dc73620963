package version

// mainpkg is the overall, canonical project import path under which the
// package was built.
var mainpkg = "github.com/vfsgate/vfsgate"

// version indicates which version of the binary is running. It is set to
// the latest release tag by hand and replaced by the actual version during
// build.
var version = "v0.1.0+unknown"

// revision is filled with the VCS (e.g. git) revision being used to build
// the program at linking time.
var revision = ""

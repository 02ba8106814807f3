package platform

import "path/filepath"

// posixAdapter covers Linux, macOS and the BSDs. Environments follow the
// bin/ layout and versioned interpreters are discovered as pythonX.Y on the
// search path.
type posixAdapter struct{}

func (posixAdapter) Name() string { return "posix" }

func (posixAdapter) BaseInterpreter(version string) []string {
	if version == "" {
		return []string{"python3"}
	}
	return []string{"python" + version}
}

func (posixAdapter) Interpreter(envRoot string) string {
	return filepath.Join(envRoot, "bin", "python")
}

func (posixAdapter) ScriptsDir(envRoot string) string {
	return filepath.Join(envRoot, "bin")
}

func (a posixAdapter) ActivationEnv(envRoot string, base []string) []string {
	env := append([]string(nil), base...)
	scripts := a.ScriptsDir(envRoot)
	if path, ok := lookupEnv(env, "PATH"); ok && path != "" {
		env = setEnv(env, "PATH", scripts+":"+path)
	} else {
		env = setEnv(env, "PATH", scripts)
	}
	env = setEnv(env, "VIRTUAL_ENV", envRoot)
	// A stray PYTHONHOME would redirect the stdlib away from the environment.
	env = dropEnv(env, "PYTHONHOME")
	return env
}

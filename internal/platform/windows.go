package platform

import "path/filepath"

// windowsAdapter uses the Scripts\ environment layout and the py launcher
// for versioned interpreter discovery.
type windowsAdapter struct{}

func (windowsAdapter) Name() string { return "windows" }

func (windowsAdapter) BaseInterpreter(version string) []string {
	if version == "" {
		return []string{"py"}
	}
	return []string{"py", "-" + version}
}

func (windowsAdapter) Interpreter(envRoot string) string {
	return filepath.Join(envRoot, "Scripts", "python.exe")
}

func (windowsAdapter) ScriptsDir(envRoot string) string {
	return filepath.Join(envRoot, "Scripts")
}

func (a windowsAdapter) ActivationEnv(envRoot string, base []string) []string {
	env := append([]string(nil), base...)
	scripts := a.ScriptsDir(envRoot)
	if path, ok := lookupEnv(env, "Path"); ok && path != "" {
		env = setEnv(env, "Path", scripts+";"+path)
	} else if path, ok := lookupEnv(env, "PATH"); ok && path != "" {
		env = setEnv(env, "PATH", scripts+";"+path)
	} else {
		env = setEnv(env, "PATH", scripts)
	}
	env = setEnv(env, "VIRTUAL_ENV", envRoot)
	env = dropEnv(env, "PYTHONHOME")
	return env
}

package descriptor

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// Environment renders service addresses for one deployment target. Host and
// URL are templates: {name} expands to the service name, {host}, {port} and
// {scheme} to the rendered parts.
type Environment struct {
	Name   string `yaml:"-"`
	Scheme string `yaml:"scheme,omitempty"`
	Host   string `yaml:"host,omitempty"`
	URL    string `yaml:"url,omitempty"`
}

const (
	EnvLocal   = "local"
	EnvCompose = "compose"

	defaultScheme      = "http"
	defaultHost        = "localhost"
	defaultURLTemplate = "{scheme}://{host}:{port}"
)

var builtinEnvironments = map[string]Environment{
	EnvLocal:   {Name: EnvLocal, Scheme: defaultScheme, Host: defaultHost, URL: defaultURLTemplate},
	EnvCompose: {Name: EnvCompose, Scheme: defaultScheme, Host: "{name}", URL: defaultURLTemplate},
}

func (e Environment) withDefaults() Environment {
	if e.Scheme == "" {
		e.Scheme = defaultScheme
	}
	if e.Host == "" {
		e.Host = defaultHost
	}
	if e.URL == "" {
		e.URL = defaultURLTemplate
	}
	return e
}

// HostFor renders the host a service is reachable at.
func (e Environment) HostFor(service string) string {
	return strings.ReplaceAll(e.withDefaults().Host, "{name}", service)
}

// AddressFor renders host:port.
func (e Environment) AddressFor(service string, port int) string {
	return net.JoinHostPort(e.HostFor(service), strconv.Itoa(port))
}

// URLFor renders the base URL dependents use to reach a service.
func (e Environment) URLFor(service string, port int) string {
	env := e.withDefaults()
	return URLForAddress(env, service, e.HostFor(service), port)
}

// URLForAddress renders the URL template for an explicit host and port.
func URLForAddress(env Environment, service, host string, port int) string {
	env = env.withDefaults()
	r := strings.NewReplacer(
		"{scheme}", env.Scheme,
		"{name}", service,
		"{host}", host,
		"{port}", strconv.Itoa(port),
	)
	return r.Replace(env.URL)
}

// Environment looks up a declared or built-in environment. Declared entries
// override built-ins of the same name.
func (d *Deployment) Environment(name string) (Environment, error) {
	if name == "" {
		name = EnvLocal
	}
	if env, ok := d.Environments[name]; ok {
		env.Name = name
		return env.withDefaults(), nil
	}
	if env, ok := builtinEnvironments[name]; ok {
		return env, nil
	}
	return Environment{}, fmt.Errorf("unknown environment %q (available: %s)", name, strings.Join(d.EnvironmentNames(), ", "))
}

// EnvironmentNames lists built-in and declared environments, sorted.
func (d *Deployment) EnvironmentNames() []string {
	seen := make(map[string]bool)
	for name := range builtinEnvironments {
		seen[name] = true
	}
	for name := range d.Environments {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// internal/config/config.go

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"prossh/internal/models"
)

const (
	DefaultConfigFileName = "hosts.json"
	DefaultConfigDir      = ".config/prossh"
	DefaultFilePerms      = 0600
)

type Manager struct {
	configPath string
	config     *models.Config
}

// NewManager tworzy nowego menedżera konfiguracji
func NewManager(configPath string) *Manager {
	if configPath == "" {
		defaultPath, err := GetDefaultConfigPath()
		if err == nil {
			configPath = defaultPath
		} else {
			// Fallback do bieżącego katalogu jeśli nie można uzyskać ścieżki domowej
			configPath = DefaultConfigFileName
		}
	}

	return &Manager{
		configPath: configPath,
		config:     &models.Config{},
	}
}

// Load wczytuje konfigurację z pliku
func (m *Manager) Load() error {
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %v", err)
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Jeśli plik nie istnieje, tworzymy nową pustą konfigurację
			m.config = &models.Config{
				Hosts:     make([]models.Host, 0),
				Passwords: make([]models.Password, 0),
				Keys:      make([]models.Key, 0),
			}
			return m.Save()
		}
		return fmt.Errorf("failed to read config file: %v", err)
	}

	if err := json.Unmarshal(data, m.config); err != nil {
		return fmt.Errorf("failed to parse config file: %v", err)
	}

	return nil
}

// Save zapisuje konfigurację do pliku
func (m *Manager) Save() error {
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %v", err)
	}

	data, err := json.MarshalIndent(m.config, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %v", err)
	}

	if err := os.WriteFile(m.configPath, data, DefaultFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %v", err)
	}

	return nil
}

// GetHosts zwraca listę wszystkich hostów
func (m *Manager) GetHosts() []models.Host {
	return m.config.Hosts
}

// AddHost dodaje nowego hosta
func (m *Manager) AddHost(host models.Host) {
	m.config.Hosts = append(m.config.Hosts, host)
}

// UpdateHost aktualizuje istniejącego hosta
func (m *Manager) UpdateHost(index int, host models.Host) error {
	if index < 0 || index >= len(m.config.Hosts) {
		return errors.New("invalid host index")
	}
	m.config.Hosts[index] = host
	return nil
}

// DeleteHost usuwa hosta
func (m *Manager) DeleteHost(index int) error {
	if index < 0 || index >= len(m.config.Hosts) {
		return errors.New("invalid host index")
	}
	m.config.Hosts = append(m.config.Hosts[:index], m.config.Hosts[index+1:]...)
	return nil
}

// FindHostByID szuka hosta po identyfikatorze
func (m *Manager) FindHostByID(id string) (models.Host, error) {
	for _, host := range m.config.Hosts {
		if host.ID == id {
			return host, nil
		}
	}
	return models.Host{}, errors.New("host not found")
}

// FindHostByName szuka hosta po nazwie
func (m *Manager) FindHostByName(name string) (models.Host, int, error) {
	for i, host := range m.config.Hosts {
		if host.Name == name {
			return host, i, nil
		}
	}
	return models.Host{}, -1, errors.New("host not found")
}

// GetPasswords zwraca listę wszystkich haseł
func (m *Manager) GetPasswords() []models.Password {
	return m.config.Passwords
}

// AddPassword dodaje nowe hasło
func (m *Manager) AddPassword(password models.Password) {
	m.config.Passwords = append(m.config.Passwords, password)
}

// GetPassword zwraca hasło o danym indeksie
func (m *Manager) GetPassword(index int) (models.Password, error) {
	if index < 0 || index >= len(m.config.Passwords) {
		return models.Password{}, errors.New("invalid password index")
	}
	return m.config.Passwords[index], nil
}

// DeletePassword usuwa hasło, o ile nie jest używane przez hosta
func (m *Manager) DeletePassword(index int) error {
	if index < 0 || index >= len(m.config.Passwords) {
		return errors.New("invalid password index")
	}
	for _, host := range m.config.Hosts {
		if host.AuthMethod == models.AuthPassword && host.PasswordID == index {
			return errors.New("password is in use by a host")
		}
	}
	m.config.Passwords = append(m.config.Passwords[:index], m.config.Passwords[index+1:]...)
	return nil
}

// GetKeys zwraca listę wszystkich kluczy
func (m *Manager) GetKeys() []models.Key {
	return m.config.Keys
}

// AddKey dodaje nowy klucz
func (m *Manager) AddKey(key models.Key) error {
	for _, k := range m.config.Keys {
		if k.Description == key.Description {
			return fmt.Errorf("key with description '%s' already exists", key.Description)
		}
	}
	m.config.Keys = append(m.config.Keys, key)
	return nil
}

// GetKey zwraca klucz o danym indeksie
func (m *Manager) GetKey(index int) (models.Key, error) {
	if index < 0 || index >= len(m.config.Keys) {
		return models.Key{}, errors.New("invalid key index")
	}
	return m.config.Keys[index], nil
}

// DeleteKey usuwa klucz, o ile nie jest używany przez hosta
func (m *Manager) DeleteKey(index int) error {
	if index < 0 || index >= len(m.config.Keys) {
		return fmt.Errorf("invalid key index: %d", index)
	}
	for _, host := range m.config.Hosts {
		if (host.AuthMethod == models.AuthPublicKey || host.AuthMethod == models.AuthCertificate) && host.KeyID == index {
			return fmt.Errorf("key '%s' is in use by host '%s'", m.config.Keys[index].Description, host.Name)
		}
	}
	m.config.Keys = append(m.config.Keys[:index], m.config.Keys[index+1:]...)
	return nil
}

// GetDefaultConfigPath zwraca domyślną ścieżkę pliku konfiguracyjnego
func GetDefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get home directory: %v", err)
	}

	configDir := filepath.Join(homeDir, DefaultConfigDir)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("could not create config directory: %v", err)
	}

	return filepath.Join(configDir, DefaultConfigFileName), nil
}

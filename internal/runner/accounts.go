package runner

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/SergeySdv/backpack-volume-auto/internal/models"
)

// LoadAccounts reads api_key:api_secret lines and zips them positionally
// with proxy lines from proxiesPath. Accounts past the end of the proxy list
// run without one; a missing proxies file means no proxies at all.
func LoadAccounts(accountsPath, proxiesPath string) ([]models.Account, error) {
	keys, err := readLines(accountsPath)
	if err != nil {
		return nil, errors.Wrap(err, "read accounts file")
	}
	if len(keys) == 0 {
		return nil, errors.Errorf("no accounts in %s", accountsPath)
	}

	proxies, err := readLines(proxiesPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "read proxies file")
	}

	accounts := make([]models.Account, 0, len(keys))
	for i, line := range keys {
		key, secret, found := strings.Cut(line, ":")
		if !found {
			return nil, errors.Errorf("accounts file line %d is not api_key:api_secret", i+1)
		}
		acc := models.Account{APIKey: key, APISecret: secret}
		if i < len(proxies) {
			acc.Proxy = proxies[i]
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// ReadProxies returns the proxy URLs listed in the file, one per line.
func ReadProxies(path string) ([]string, error) {
	return readLines(path)
}

// readLines returns the non-empty trimmed lines of a file.
func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

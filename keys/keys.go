// Package keys loads certificates and revocation data from PEM and DER
// encoded files.
package keys

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Common errors
var (
	ErrNoCertFound     = errors.New("no certificate found in data")
	ErrNoBlockFound    = errors.New("no matching PEM block found in data")
	ErrMultipleCerts   = errors.New("expected exactly one certificate")
	ErrInvalidPEMBlock = errors.New("invalid PEM block")
)

// PEM block types of the evidence material we read.
const (
	BlockCertificate = "CERTIFICATE"
	BlockCRL         = "X509 CRL"
	BlockOCSP        = "OCSP RESPONSE"
	BlockTimestamp   = "TIMESTAMP TOKEN"
)

var certExtensions = map[string]bool{
	".pem": true,
	".crt": true,
	".cer": true,
	".der": true,
}

// LoadCertsFromPemDerData loads certificates from PEM or DER encoded data.
func LoadCertsFromPemDerData(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	if isPEM(data) {
		blocks, err := decodePEM(data, BlockCertificate)
		if err != nil && !errors.Is(err, ErrNoBlockFound) {
			return nil, err
		}
		for _, der := range blocks {
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	} else {
		parsed, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
		}
		certs = parsed
	}

	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// LoadCertsFromPemDer loads certificates from a PEM or DER encoded file.
func LoadCertsFromPemDer(filename string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	certs, err := LoadCertsFromPemDerData(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return certs, nil
}

// LoadCertFromPemDer loads exactly one certificate from a file.
func LoadCertFromPemDer(filename string) (*x509.Certificate, error) {
	certs, err := LoadCertsFromPemDer(filename)
	if err != nil {
		return nil, err
	}
	if len(certs) != 1 {
		return nil, fmt.Errorf("%w: found %d certificates in %s", ErrMultipleCerts, len(certs), filename)
	}
	return certs[0], nil
}

// LoadCertsFromPaths loads certificates from files and directories. Inside
// a directory only files with a certificate extension are read, in lexical
// order, without descending into subdirectories.
func LoadCertsFromPaths(paths []string) ([]*x509.Certificate, error) {
	var all []*x509.Certificate
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		files := []string{path}
		if info.IsDir() {
			files, err = certFilesIn(path)
			if err != nil {
				return nil, err
			}
		}
		for _, file := range files {
			certs, err := LoadCertsFromPemDer(file)
			if err != nil {
				return nil, err
			}
			all = append(all, certs...)
		}
	}
	return all, nil
}

func certFilesIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !certExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// LoadDERBlocks returns the DER payloads of the PEM blocks of blockType in
// data, or data itself when it is not PEM encoded.
func LoadDERBlocks(data []byte, blockType string) ([][]byte, error) {
	if !isPEM(data) {
		if len(data) == 0 {
			return nil, ErrNoBlockFound
		}
		return [][]byte{data}, nil
	}
	return decodePEM(data, blockType)
}

// LoadDERFile reads a file with LoadDERBlocks.
func LoadDERFile(filename, blockType string) ([][]byte, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	blocks, err := LoadDERBlocks(data, blockType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return blocks, nil
}

func decodePEM(data []byte, blockType string) ([][]byte, error) {
	var out [][]byte
	rest := bytes.TrimSpace(data)
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			if len(out) == 0 {
				return nil, ErrInvalidPEMBlock
			}
			break
		}
		if block.Type == blockType {
			out = append(out, block.Bytes)
		}
		rest = bytes.TrimSpace(rest)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoBlockFound, blockType)
	}
	return out, nil
}

// isPEM checks if the data appears to be PEM encoded.
func isPEM(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 10 && string(data[:5]) == "-----"
}

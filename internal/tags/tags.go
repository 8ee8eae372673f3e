// Package tags はカタログのタグと名前空間の翻訳表を提供する。
package tags

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/HpilOsit/exloli-cat/internal/model"
)

// DB はタグ翻訳表。ゼロ値は翻訳なし（入力をそのまま返す）として有効。
//
// ファイル形式（YAML、JSONも可）:
//
//	namespaces:
//	  artist: 作者
//	tags:
//	  artist:
//	    some-name: 某作者
type DB struct {
	Namespaces map[string]string            `yaml:"namespaces"`
	Tags       map[string]map[string]string `yaml:"tags"`
}

// Load はファイルから翻訳表を読み込む。pathが空の場合は空の翻訳表を返す。
func Load(path string) (*DB, error) {
	if path == "" {
		return &DB{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("タグ翻訳ファイルの読み込みに失敗しました: %w", err)
	}
	return Parse(data)
}

// Parse はバイト列から翻訳表を解析する。
func Parse(data []byte) (*DB, error) {
	var db DB
	if err := yaml.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("タグ翻訳ファイルの解析に失敗しました: %w", err)
	}
	return &db, nil
}

// TranslateNamespace は名前空間の表示名を返す。未登録の場合は入力をそのまま返す。
func (db *DB) TranslateNamespace(ns string) string {
	if db == nil {
		return ns
	}
	if v, ok := db.Namespaces[ns]; ok && v != "" {
		return v
	}
	return ns
}

// Translate は名前空間内のタグの表示名を返す。未登録の場合は入力をそのまま返す。
func (db *DB) Translate(ns, tag string) string {
	if db == nil {
		return tag
	}
	if v, ok := db.Tags[ns][tag]; ok && v != "" {
		return v
	}
	return tag
}

// TranslateGroups はタグ一覧を順序を保ったまま翻訳する。入力は変更しない。
func (db *DB) TranslateGroups(groups model.TagGroups) model.TagGroups {
	out := make(model.TagGroups, 0, len(groups))
	for _, g := range groups {
		tags := make([]string, len(g.Tags))
		for i, t := range g.Tags {
			tags[i] = db.Translate(g.Namespace, t)
		}
		out = append(out, model.TagGroup{Namespace: db.TranslateNamespace(g.Namespace), Tags: tags})
	}
	return out
}

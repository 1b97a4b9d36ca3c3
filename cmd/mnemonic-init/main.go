package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fleetgrid/gogrid/pkg/secretstore"
)

// 把舰队助记词写进 badger 密文库。
// 加密密钥来自 GOGRID_SECRET_KEY（32 字节，hex 或 base64），
// 与 bot 运行时读取助记词用的是同一把钥匙。
func main() {
	var (
		dir   = flag.String("dir", getenv("GOGRID_SECRET_DIR", "data/secrets"), "密文库目录")
		force = flag.Bool("force", false, "已有记录时覆盖")
	)
	flag.Parse()

	rawKey := strings.TrimSpace(os.Getenv("GOGRID_SECRET_KEY"))
	if rawKey == "" {
		fatal(errors.New("需要设置 GOGRID_SECRET_KEY（32 字节，hex 或 base64）"))
	}
	key, err := secretstore.ParseKey(rawKey)
	if err != nil {
		fatal(fmt.Errorf("解析 GOGRID_SECRET_KEY 失败: %w", err))
	}

	store, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *dir,
		EncryptionKey: key,
	})
	if err != nil {
		fatal(fmt.Errorf("打开密文库失败: %w", err))
	}
	defer store.Close()

	if _, found, err := store.GetString(secretstore.KeyMnemonic); err != nil {
		fatal(err)
	} else if found && !*force {
		fatal(fmt.Errorf("密文库已有助记词记录（用 -force 覆盖）: %s", *dir))
	}

	fmt.Fprintln(os.Stderr, "请输入助记词（12/15/18/21/24 个单词），输入完成后回车：")
	mnemonic := strings.TrimSpace(readLine())
	words := len(strings.Fields(mnemonic))
	switch words {
	case 12, 15, 18, 21, 24:
	default:
		fatal(fmt.Errorf("助记词单词数不合法: %d", words))
	}

	if err := store.SetString(secretstore.KeyMnemonic, mnemonic); err != nil {
		fatal(fmt.Errorf("写入助记词失败: %w", err))
	}
	fmt.Fprintf(os.Stderr, "已写入密文库：%s\n", *dir)
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func readLine() string {
	br := bufio.NewReader(os.Stdin)
	s, _ := br.ReadString('\n')
	return strings.TrimSpace(s)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}

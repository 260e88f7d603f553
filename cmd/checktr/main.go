// This program checks translation override files against the default translations
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bcmk/bkcoupons/internal/coupons"
	"github.com/bcmk/bkcoupons/lib/cmdlib"
	"github.com/bcmk/bkcoupons/res"
	"gopkg.in/yaml.v3"
)

var print = flag.Bool("p", false, "print merged translations")

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [options] [override.yaml...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	sources := [][]byte{res.DefaultTranslations}
	for _, f := range flag.Args() {
		sources = append(sources, cmdlib.ReadTranslationFile(f))
	}
	texts, err := cmdlib.LoadTranslations(coupons.TemplateFuncs(time.Local), sources...)
	cmdlib.CheckErr(err)
	if *print {
		bytes, err := yaml.Marshal(texts.Translations)
		cmdlib.CheckErr(err)
		fmt.Println(string(bytes))
	} else {
		fmt.Println("OK")
	}
}

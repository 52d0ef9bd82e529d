// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/gorse-io/latent/base/log"
	"github.com/gorse-io/latent/config"
	"github.com/gorse-io/latent/dataset"
	"github.com/gorse-io/latent/model/embed"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// session is a trained model with the data it was trained on.
type session struct {
	conf     *config.Config
	data     *dataset.Dataset
	trainSet *dataset.Dataset
	testSet  *dataset.Dataset
	model    *embed.Model
	trainer  *embed.Trainer
	score    embed.Score
	paused   bool
}

func newTrainCommand() *cobra.Command {
	trainCommand := &cobra.Command{
		Use:   "train",
		Short: "Train embeddings and report ranking metrics.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := train(cmd)
			if err != nil {
				return err
			}
			defer s.model.Dispose()
			if err = s.printScore(cmd); err != nil {
				return err
			}
			user, _ := cmd.Flags().GetInt("recommend-user")
			if user >= 0 {
				return s.printRecommend(cmd, user)
			}
			return nil
		},
	}
	trainCommand.Flags().Int("recommend-user", -1, "print recommendations for a user index after training")
	trainCommand.Flags().Bool("no-progress", false, "hide the progress bar")
	return trainCommand
}

// train loads the configuration and the data, then fits a model. An interrupt
// or the configured timeout pauses training and keeps the partial model.
func train(cmd *cobra.Command) (*session, error) {
	configPath, _ := cmd.Flags().GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, errors.Annotate(err, "failed to load config")
	}
	s := &session{conf: conf}
	if conf.Data.Path != "" {
		if s.data, err = dataset.LoadTSV(conf.Data.Path); err != nil {
			return nil, errors.Annotate(err, "failed to load data")
		}
	} else {
		s.data = dataset.Synthetic(conf.Data.NumUsers, conf.Data.NumItems, conf.Data.NumClusters, conf.Data.PerUser, conf.Train.Seed)
	}
	s.trainSet, s.testSet = s.data.Split(conf.Train.TestRatio, conf.Train.Seed)
	log.Logger().Info("load data",
		zap.Int("n_users", s.data.CountUsers()),
		zap.Int("n_items", s.data.CountItems()),
		zap.Int("n_train", s.trainSet.Count()),
		zap.Int("n_test", s.testSet.Count()))

	if s.model, err = embed.NewModel(s.data.CountUsers(), s.data.CountItems(), conf.Model.ToParams()); err != nil {
		return nil, errors.Trace(err)
	}
	if s.trainer, err = embed.NewTrainer(s.model, conf.Train.ToFitConfig()); err != nil {
		s.model.Dispose()
		return nil, errors.Trace(err)
	}
	if noProgress, _ := cmd.Flags().GetBool("no-progress"); !noProgress {
		var bar *progressbar.ProgressBar
		s.trainer.OnBatch = func(epoch, batch, numBatches int, loss float32) {
			if batch == 1 || bar == nil {
				bar = progressbar.NewOptions(numBatches,
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionSetDescription(fmt.Sprintf("epoch %d/%d", epoch+1, conf.Train.Epochs)),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish())
				if err := bar.Set(batch - 1); err != nil {
					log.Logger().Debug("failed to update progress bar", zap.Error(err))
				}
			}
			if err := bar.Add(1); err != nil {
				log.Logger().Debug("failed to update progress bar", zap.Error(err))
			}
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if conf.Train.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, conf.Train.Timeout)
		defer cancel()
	}
	s.score, err = s.trainer.Fit(ctx, s.trainSet, s.testSet)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Logger().Warn("training paused", zap.Int("epoch", s.trainer.Epoch()), zap.Error(err))
		s.paused = true
	} else if err != nil {
		s.model.Dispose()
		return nil, errors.Trace(err)
	}
	return s, nil
}

func (s *session) printScore(cmd *cobra.Command) error {
	topK := s.conf.Train.TopK
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Mode", "Epochs", "Steps", "Parameters",
		fmt.Sprintf("NDCG@%d", topK), fmt.Sprintf("Precision@%d", topK), fmt.Sprintf("Recall@%d", topK))
	epochs := strconv.Itoa(s.trainer.Epoch())
	if s.paused {
		epochs += " (paused)"
	}
	if err := table.Append([]string{
		string(s.model.Mode()),
		epochs,
		strconv.FormatInt(s.model.Steps(), 10),
		strconv.FormatInt(s.model.NumParameters(), 10),
		fmt.Sprintf("%.4f", s.score.NDCG),
		fmt.Sprintf("%.4f", s.score.Precision),
		fmt.Sprintf("%.4f", s.score.Recall),
	}); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(table.Render())
}

func (s *session) printRecommend(cmd *cobra.Command, user int) error {
	items, scores, err := s.model.Recommend(user, s.conf.Train.TopK, s.trainSet.GetUserFeedbackSet(user))
	if err != nil {
		return errors.Trace(err)
	}
	if _, err = fmt.Fprintf(cmd.OutOrStdout(), "recommendations for user %s\n", s.userName(user)); err != nil {
		return errors.Trace(err)
	}
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("#", "Item", "Score")
	for i, item := range items {
		if err = table.Append([]string{strconv.Itoa(i + 1), s.itemName(item), fmt.Sprintf("%.4f", scores[i])}); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}

func (s *session) userName(user int) string {
	if name, ok := s.data.UserName(user); ok {
		return name
	}
	return strconv.Itoa(user)
}

func (s *session) itemName(item int) string {
	if name, ok := s.data.ItemName(item); ok {
		return name
	}
	return strconv.Itoa(item)
}
